// Package transcript exports a conversation's message history as markdown or
// a standalone HTML page.
package transcript
