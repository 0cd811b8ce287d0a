package chunk

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// CodeChunkerOptions configures chunk sizing for the code chunker.
type CodeChunkerOptions struct {
	MaxChunkLines int // AST chunk split threshold (default 150)
	MinChunkLines int // merge-short-tail threshold after splitting (default 10)
	WindowSize    int // line-window fallback size (default 100)
	WindowOverlap int // line-window fallback overlap (default 20)
}

// DefaultCodeChunkerOptions returns the spec's default sizing constants.
func DefaultCodeChunkerOptions() CodeChunkerOptions {
	return CodeChunkerOptions{
		MaxChunkLines: 150,
		MinChunkLines: 10,
		WindowSize:    100,
		WindowOverlap: 20,
	}
}

// astLanguages is the set of languages that get AST-aware chunking.
// Every other language falls back to the sliding-window chunker.
var astLanguages = map[string]bool{
	"typescript": true,
	"tsx":        true,
	"javascript": true,
	"jsx":        true,
}

// CodeChunker implements AST-aware chunking for the TS/JS family and a
// line-window fallback for everything else.
type CodeChunker struct {
	parser    *Parser
	extractor *SymbolExtractor
	registry  *LanguageRegistry
	opts      CodeChunkerOptions
}

// NewCodeChunker creates a code chunker with default sizing.
func NewCodeChunker() *CodeChunker {
	return NewCodeChunkerWithOptions(DefaultCodeChunkerOptions())
}

// NewCodeChunkerWithOptions creates a code chunker with custom sizing.
func NewCodeChunkerWithOptions(opts CodeChunkerOptions) *CodeChunker {
	registry := DefaultRegistry()
	return &CodeChunker{
		parser:    NewParserWithRegistry(registry),
		extractor: NewSymbolExtractorWithRegistry(registry),
		registry:  registry,
		opts:      opts,
	}
}

// Close releases parser resources.
func (c *CodeChunker) Close() {
	c.parser.Close()
}

// SupportedExtensions returns every extension the language registry knows.
func (c *CodeChunker) SupportedExtensions() []string {
	return c.registry.SupportedExtensions()
}

// Chunk splits a file into chunks following the AST policy for the TS/JS
// family and a sliding-window fallback for every other language.
func (c *CodeChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	if len(strings.TrimSpace(string(file.Content))) == 0 {
		return nil, nil
	}

	if astLanguages[file.Language] {
		chunks, err := c.chunkAST(ctx, file)
		if err != nil {
			// ParseError: fall back to line-window chunking for this file.
			return c.chunkWindow(ctx, file)
		}
		return chunks, nil
	}

	return c.chunkWindow(ctx, file)
}

// unit is an intermediate chunk before it is materialized, expressed purely
// as a 0-indexed inclusive line range so post-processing can re-slice it.
type unit struct {
	kind     ChunkKind
	name     string
	startRow int
	endRow   int
}

func (c *CodeChunker) chunkAST(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	tree, err := c.parser.Parse(ctx, file.Content, file.Language)
	if err != nil {
		return nil, &ParseError{Path: file.Path, Err: err}
	}
	if tree == nil || tree.Root == nil {
		return nil, &ParseError{Path: file.Path, Err: fmt.Errorf("empty tree")}
	}

	units := c.collectTopLevelUnits(tree.Root, file.Content, file.Language)
	units = splitOversized(units, c.opts.MaxChunkLines, c.opts.MinChunkLines)

	return c.materialize(units, file), nil
}

// collectTopLevelUnits walks the program's direct children, merges imports
// into a single leading unit, and attaches leading comments/decorators to
// the declaration that follows them (the "full start" position).
func (c *CodeChunker) collectTopLevelUnits(root *Node, source []byte, language string) []unit {
	var result []unit
	var imports []unit
	pendingLeadRow := -1

	for _, child := range root.Children {
		if child.Type == "comment" || child.Type == "decorator" {
			if pendingLeadRow == -1 {
				pendingLeadRow = int(child.StartPoint.Row)
			}
			continue
		}

		fullStartRow := int(child.StartPoint.Row)
		if pendingLeadRow != -1 && pendingLeadRow < fullStartRow {
			fullStartRow = pendingLeadRow
		}
		pendingLeadRow = -1

		if child.Type == "empty_statement" {
			continue
		}

		actual, isBareReexport := unwrapExport(child)
		if isBareReexport {
			imports = append(imports, unit{
				kind:     ChunkKindImport,
				startRow: fullStartRow,
				endRow:   int(child.EndPoint.Row),
			})
			continue
		}

		switch actual.Type {
		case "import_statement":
			imports = append(imports, unit{
				kind:     ChunkKindImport,
				startRow: fullStartRow,
				endRow:   int(child.EndPoint.Row),
			})

		case "class_declaration", "abstract_class_declaration":
			name := firstChildContent(actual, source, "type_identifier", "identifier")
			result = append(result, c.expandClass(actual, child, name, fullStartRow, source)...)

		case "interface_declaration":
			name := firstChildContent(actual, source, "type_identifier", "identifier")
			result = append(result, unit{kind: ChunkKindInterface, name: name, startRow: fullStartRow, endRow: int(child.EndPoint.Row)})

		case "type_alias_declaration":
			name := firstChildContent(actual, source, "type_identifier")
			result = append(result, unit{kind: ChunkKindType, name: name, startRow: fullStartRow, endRow: int(child.EndPoint.Row)})

		case "enum_declaration":
			name := firstChildContent(actual, source, "identifier")
			result = append(result, unit{kind: ChunkKindOther, name: name, startRow: fullStartRow, endRow: int(child.EndPoint.Row)})

		case "function_declaration", "generator_function_declaration":
			name := firstChildContent(actual, source, "identifier")
			result = append(result, unit{kind: ChunkKindFunction, name: name, startRow: fullStartRow, endRow: int(child.EndPoint.Row)})

		case "lexical_declaration", "variable_declaration":
			names := declaratorNames(actual, source)
			result = append(result, unit{kind: ChunkKindVariable, name: names, startRow: fullStartRow, endRow: int(child.EndPoint.Row)})

		default:
			result = append(result, unit{kind: ChunkKindOther, startRow: fullStartRow, endRow: int(child.EndPoint.Row)})
		}
	}

	if len(imports) > 0 {
		merged := mergeImports(imports)
		result = append([]unit{merged}, result...)
	}

	return result
}

// unwrapExport looks through `export ...` / `export default ...` wrappers to
// find the underlying declaration. The second return value is true when the
// export carries no declaration at all (a bare re-export, e.g.
// `export { x } from './y'` or `export * from './y'`), which is treated as
// an import.
func unwrapExport(n *Node) (*Node, bool) {
	if n.Type != "export_statement" {
		return n, false
	}
	for _, decl := range []string{
		"class_declaration", "abstract_class_declaration", "interface_declaration",
		"type_alias_declaration", "enum_declaration", "function_declaration",
		"generator_function_declaration", "lexical_declaration", "variable_declaration",
	} {
		if inner := n.FindChildByType(decl); inner != nil {
			return inner, false
		}
	}
	return n, true
}

// expandClass emits one chunk for the whole class when it fits within
// MaxChunkLines, otherwise a header chunk plus one chunk per member.
func (c *CodeChunker) expandClass(classNode, outerNode *Node, className string, fullStartRow int, source []byte) []unit {
	endRow := int(outerNode.EndPoint.Row)
	lineSpan := endRow - fullStartRow + 1

	if lineSpan <= c.opts.MaxChunkLines {
		return []unit{{kind: ChunkKindClass, name: className, startRow: fullStartRow, endRow: endRow}}
	}

	body := classNode.FindChildByType("class_body")
	if body == nil {
		return []unit{{kind: ChunkKindClass, name: className, startRow: fullStartRow, endRow: endRow}}
	}

	var members []unit
	pendingLeadRow := -1
	for _, m := range body.Children {
		if m.Type == "comment" || m.Type == "decorator" {
			if pendingLeadRow == -1 {
				pendingLeadRow = int(m.StartPoint.Row)
			}
			continue
		}
		if m.Type == "{" || m.Type == "}" {
			continue
		}

		memberStart := int(m.StartPoint.Row)
		if pendingLeadRow != -1 && pendingLeadRow < memberStart {
			memberStart = pendingLeadRow
		}
		pendingLeadRow = -1

		switch m.Type {
		case "method_definition":
			name := firstChildContent(m, source, "property_identifier")
			members = append(members, unit{
				kind:     ChunkKindMethod,
				name:     qualify(className, name),
				startRow: memberStart,
				endRow:   int(m.EndPoint.Row),
			})
		case "public_field_definition", "field_definition":
			name := firstChildContent(m, source, "property_identifier")
			members = append(members, unit{
				kind:     ChunkKindVariable,
				name:     qualify(className, name),
				startRow: memberStart,
				endRow:   int(m.EndPoint.Row),
			})
		default:
			members = append(members, unit{
				kind:     ChunkKindOther,
				startRow: memberStart,
				endRow:   int(m.EndPoint.Row),
			})
		}
	}

	if len(members) == 0 {
		return []unit{{kind: ChunkKindClass, name: className, startRow: fullStartRow, endRow: endRow}}
	}

	headerEnd := members[0].startRow - 1
	if headerEnd < fullStartRow {
		headerEnd = fullStartRow
	}
	header := unit{kind: ChunkKindClass, name: className, startRow: fullStartRow, endRow: headerEnd}

	return append([]unit{header}, members...)
}

func qualify(className, memberName string) string {
	if memberName == "" {
		return className
	}
	return className + "." + memberName
}

// firstChildContent returns the content of the first child matching any of
// the given node types.
func firstChildContent(n *Node, source []byte, types ...string) string {
	for _, t := range types {
		if child := n.FindChildByType(t); child != nil {
			return child.GetContent(source)
		}
	}
	return ""
}

// declaratorNames extracts the comma-joined list of names a variable
// statement declares, e.g. "const a = 1, b = 2" -> "a, b".
func declaratorNames(n *Node, source []byte) string {
	var names []string
	for _, declarator := range n.FindChildrenByType("variable_declarator") {
		if name := firstChildContent(declarator, source, "identifier"); name != "" {
			names = append(names, name)
		}
	}
	return strings.Join(names, ", ")
}

// mergeImports collapses individually-collected import/re-export units into
// a single unit placed first, per the spec's import-merge rule.
func mergeImports(imports []unit) unit {
	merged := unit{kind: ChunkKindImport, startRow: imports[0].startRow, endRow: imports[0].endRow}
	for _, imp := range imports[1:] {
		if imp.startRow < merged.startRow {
			merged.startRow = imp.startRow
		}
		if imp.endRow > merged.endRow {
			merged.endRow = imp.endRow
		}
	}
	return merged
}

// splitOversized splits any unit whose line count exceeds maxLines into
// ceil(lines/max) near-equal parts, merging a short trailing part into the
// previous one.
func splitOversized(units []unit, maxLines, minLines int) []unit {
	var out []unit
	for _, u := range units {
		lineCount := u.endRow - u.startRow + 1
		if lineCount <= maxLines {
			out = append(out, u)
			continue
		}

		parts := (lineCount + maxLines - 1) / maxLines
		base := lineCount / parts
		rem := lineCount % parts

		type rng struct{ start, end int }
		var ranges []rng
		cur := u.startRow
		for i := 0; i < parts; i++ {
			size := base
			if i < rem {
				size++
			}
			ranges = append(ranges, rng{start: cur, end: cur + size - 1})
			cur += size
		}

		if len(ranges) > 1 {
			last := ranges[len(ranges)-1]
			if last.end-last.start+1 < minLines {
				ranges[len(ranges)-2].end = last.end
				ranges = ranges[:len(ranges)-1]
			}
		}

		for i, r := range ranges {
			nu := u
			nu.startRow, nu.endRow = r.start, r.end
			if len(ranges) > 1 {
				nu.name = partName(u.name, i+1)
			}
			out = append(out, nu)
		}
	}
	return out
}

func partName(name string, n int) string {
	suffix := fmt.Sprintf("(part %d)", n)
	if name == "" {
		return suffix
	}
	return name + " " + suffix
}

// materialize turns line-range units into Chunks.
func (c *CodeChunker) materialize(units []unit, file *FileInput) []*Chunk {
	lines := strings.Split(string(file.Content), "\n")
	now := time.Now()

	chunks := make([]*Chunk, 0, len(units))
	for _, u := range units {
		start, end := clampRange(u.startRow, u.endRow, len(lines))
		raw := strings.Join(lines[start:end+1], "\n")

		ch := &Chunk{
			ID:          generateChunkID(file.Path, start+1, end+1),
			FilePath:    file.Path,
			Content:     raw,
			RawContent:  raw,
			ContentType: ContentTypeCode,
			Language:    file.Language,
			StartLine:   start + 1,
			EndLine:     end + 1,
			Kind:        u.kind,
			Name:        u.name,
			Metadata:    make(map[string]string),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if symType, ok := symbolTypeForKind(u.kind); ok && u.name != "" {
			ch.Symbols = []*Symbol{{
				Name:      u.name,
				Type:      symType,
				StartLine: ch.StartLine,
				EndLine:   ch.EndLine,
			}}
		}
		chunks = append(chunks, ch)
	}
	return chunks
}

func clampRange(start, end, numLines int) (int, int) {
	if start < 0 {
		start = 0
	}
	if end >= numLines {
		end = numLines - 1
	}
	if end < start {
		end = start
	}
	return start, end
}

func symbolTypeForKind(k ChunkKind) (SymbolType, bool) {
	switch k {
	case ChunkKindFunction:
		return SymbolTypeFunction, true
	case ChunkKindClass:
		return SymbolTypeClass, true
	case ChunkKindMethod:
		return SymbolTypeMethod, true
	case ChunkKindInterface:
		return SymbolTypeInterface, true
	case ChunkKindType:
		return SymbolTypeType, true
	case ChunkKindVariable:
		return SymbolTypeVariable, true
	default:
		return "", false
	}
}

// chunkWindow is the sliding-window fallback used for every language
// outside the TS/JS family, and for TS/JS files the AST layer fails to
// parse. Go and Python files additionally get their top-level symbols
// attached to overlapping windows as enrichment metadata; the windowing
// itself never changes based on language.
func (c *CodeChunker) chunkWindow(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	lines := strings.Split(string(file.Content), "\n")
	windowSize := c.opts.WindowSize
	overlap := c.opts.WindowOverlap
	step := windowSize - overlap
	if step <= 0 {
		step = windowSize
	}

	symbols := c.enrichmentSymbols(ctx, file)

	now := time.Now()
	var chunks []*Chunk
	for i := 0; i < len(lines); i += step {
		end := i + windowSize
		if end > len(lines) {
			end = len(lines)
		}

		raw := strings.Join(lines[i:end], "\n")
		if strings.TrimSpace(raw) != "" {
			startLine, endLine := i+1, end
			ch := &Chunk{
				ID:          generateChunkID(file.Path, startLine, endLine),
				FilePath:    file.Path,
				Content:     raw,
				RawContent:  raw,
				ContentType: contentTypeForLanguage(file.Language),
				Language:    file.Language,
				StartLine:   startLine,
				EndLine:     endLine,
				Kind:        ChunkKindOther,
				Metadata:    make(map[string]string),
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			ch.Symbols = symbolsOverlapping(symbols, startLine, endLine)
			chunks = append(chunks, ch)
		}

		if end >= len(lines) {
			break
		}
	}

	return chunks, nil
}

func contentTypeForLanguage(language string) ContentType {
	if language == "markdown" || language == "text" {
		return ContentTypeText
	}
	return ContentTypeCode
}

// enrichmentSymbols parses the file with the AST layer, when the language
// has a registry entry, purely to harvest symbol names/ranges for window
// metadata. Parse failures are silently ignored: enrichment is best-effort
// and never changes chunk boundaries.
func (c *CodeChunker) enrichmentSymbols(ctx context.Context, file *FileInput) []*Symbol {
	if _, ok := c.registry.GetByName(file.Language); !ok {
		return nil
	}
	tree, err := c.parser.Parse(ctx, file.Content, file.Language)
	if err != nil || tree == nil {
		return nil
	}
	return c.extractor.Extract(tree, file.Content)
}

func symbolsOverlapping(symbols []*Symbol, startLine, endLine int) []*Symbol {
	if len(symbols) == 0 {
		return nil
	}
	var out []*Symbol
	for _, s := range symbols {
		if s.StartLine <= endLine && s.EndLine >= startLine {
			out = append(out, s)
		}
	}
	return out
}

// generateChunkID builds the chunk id as "{path}:{startLine}-{endLine}",
// so it round-trips through id parsing back to the (path, start, end)
// tuple it names.
func generateChunkID(filePath string, startLine, endLine int) string {
	return fmt.Sprintf("%s:%d-%d", filePath, startLine, endLine)
}
