// Package script provides the code-execution capability used to run plugin
// fragments. The unsafe-evaluation boundary lives behind the Engine
// interface so callers can substitute interpreters; two providers ship with
// the package: a JavaScript interpreter for textual plugin source and a
// WASI runtime for precompiled units.
package script

// Engine compiles plugin source into runnable programs.
type Engine interface {
	// Compile prepares source for execution. name is used in error
	// reporting and diagnostics.
	Compile(name, source string) (Program, error)
}

// Program is a compiled delivery-time fragment. It is invoked with exactly
// three inputs: the response body, the target URL, and the response headers.
type Program interface {
	// Run executes the fragment once. replaced reports whether the fragment
	// returned a replacement body string; any other return value, including
	// none, leaves the body unchanged.
	Run(body, url string, headers map[string]string) (out string, replaced bool, err error)
}
