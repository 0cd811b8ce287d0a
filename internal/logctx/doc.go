// Package logctx provides file-based logging with rotation for the indexing
// and search engine. Logs are written to ~/.codeindex/logs/.
//
// By default (without --debug), the CLI logs at info level to the file only.
// With --debug it logs at debug level to both the file and stderr.
package logctx
