// Package event models the agent's newline-delimited JSON event stream as a
// closed tagged union.
//
// Every known event shape gets its own variant struct; anything the decoder
// does not recognize becomes KindUnknown and is carried (never guessed at) so
// that newer agent versions can add event types without breaking older
// consumers.
//
// The package also provides Fanout, which delivers one stream to several
// consumers (renderer, permission arbiter, raw log) such that a slow consumer
// never blocks the stream reader or its siblings.
package event
