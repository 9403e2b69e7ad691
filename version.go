package quill

// Version is the release of the quill module and CLI.
const Version = "0.4.0"
