package chunk

import (
	"context"
	"time"
)

// ContentType represents the type of content in a chunk
type ContentType string

const (
	ContentTypeCode     ContentType = "code"
	ContentTypeMarkdown ContentType = "markdown"
	ContentTypeText     ContentType = "text"
)

// Chunk is a retrievable unit of content
type Chunk struct {
	ID          string            // "{FilePath}:{StartLine}-{EndLine}"
	FilePath    string            // Relative to project root
	Content     string            // Exact line range, newline-joined
	RawContent  string            // Same as Content; kept distinct for callers that diff against re-chunked content
	ContentType ContentType       // code, markdown, text
	Language    string            // go, typescript, python, etc.
	StartLine   int               // 1-indexed
	EndLine     int               // Inclusive
	Kind        ChunkKind         // function, class, method, interface, type, variable, import, other
	Name        string            // symbol name, or "ClassName.memberName" for members
	Symbols     []*Symbol         // Functions, classes, etc. (enrichment, line-window chunks)
	Metadata    map[string]string // Custom metadata
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ChunkKind is the closed set of chunk type tags.
type ChunkKind string

const (
	ChunkKindFunction  ChunkKind = "function"
	ChunkKindClass     ChunkKind = "class"
	ChunkKindMethod    ChunkKind = "method"
	ChunkKindInterface ChunkKind = "interface"
	ChunkKindType      ChunkKind = "type"
	ChunkKindVariable  ChunkKind = "variable"
	ChunkKindImport    ChunkKind = "import"
	ChunkKindOther     ChunkKind = "other"
)

// ParseError indicates the syntax layer could not produce a tree for a file.
// Callers fall back to line-window chunking when they see this error.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "parse error in " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// FileInput is input for the Chunker interface
type FileInput struct {
	Path     string // Relative path
	Content  []byte // File content
	Language string // go, typescript, python, etc.
}

// Chunker is the interface for splitting files into chunks
type Chunker interface {
	// Chunk splits a file into semantic chunks
	Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error)

	// SupportedExtensions returns file extensions this chunker handles
	SupportedExtensions() []string
}

// SymbolType represents the kind of code symbol
type SymbolType string

const (
	SymbolTypeFunction  SymbolType = "function"
	SymbolTypeClass     SymbolType = "class"
	SymbolTypeInterface SymbolType = "interface"
	SymbolTypeType      SymbolType = "type"
	SymbolTypeVariable  SymbolType = "variable"
	SymbolTypeConstant  SymbolType = "constant"
	SymbolTypeMethod    SymbolType = "method"
)

// Symbol represents a code symbol extracted from parsing
type Symbol struct {
	Name       string
	Type       SymbolType
	StartLine  int
	EndLine    int
	Signature  string
	DocComment string
}

// Tree represents a parsed AST
type Tree struct {
	Root     *Node
	Source   []byte
	Language string
}

// Node represents a node in the AST
type Node struct {
	Type       string
	StartByte  uint32
	EndByte    uint32
	StartPoint Point
	EndPoint   Point
	Children   []*Node
	HasError   bool
}

// Point represents a position in the source code
type Point struct {
	Row    uint32 // 0-indexed line number
	Column uint32
}

// LanguageConfig holds configuration for a supported language
type LanguageConfig struct {
	Name       string
	Extensions []string

	// Node types that indicate function declarations
	FunctionTypes []string

	// Node types that indicate class/struct definitions
	ClassTypes []string

	// Node types that indicate interface definitions
	InterfaceTypes []string

	// Node types that indicate method definitions
	MethodTypes []string

	// Node types that indicate type definitions
	TypeDefTypes []string

	// Node types that indicate constant declarations
	ConstantTypes []string

	// Node types that indicate variable declarations
	VariableTypes []string

	// Node type for name identifier
	NameField string
}
