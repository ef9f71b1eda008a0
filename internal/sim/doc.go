// Package sim is an in-memory SPELL listener and context server speaking the
// same framed protocol as the client. It backs end-to-end tests and the
// spellsim command.
package sim
