package blob

// Xattr is the opaque, fixed-size metadata blob carried alongside a
// persistent object's content. The journaling layer never interprets these
// bytes; it only ever copies them whole between a journal entry and a
// sidecar file.
type Xattr [16]byte

// TemporaryXattr is the equivalent opaque metadata blob for a recoverable
// temporary. It is a distinct type from Xattr even though the underlying
// representation matches, so that a caller cannot accidentally pass one
// where the other is expected.
type TemporaryXattr [16]byte
