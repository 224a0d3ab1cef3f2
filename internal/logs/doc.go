// Package logs reads the server log file for the CLI.
//
// Last returns the final lines with bounded memory, Since resumes from a byte
// offset, and Follow streams appended lines until its context ends. A log
// that shrinks below the saved offset is treated as rotated and re-read from
// the start.
package logs
