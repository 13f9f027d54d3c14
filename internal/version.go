package internal

// Version is the release version of the translation pipeline.
const Version = "1.3.0"
