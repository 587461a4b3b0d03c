package fichier

// DirEntry is one child directory as rendered by the console's directory
// listing.
type DirEntry struct {
	ID          string
	Name        string
	HasChildren bool // the listing marks nodes that have sub-directories
}

// FileDescriptor is a file ready to download. DownloadURL is a one-time,
// session-bound link; it is only valid for the Session that produced it and
// must never be logged.
type FileDescriptor struct {
	ID          string
	Name        string
	DownloadURL string
}

// fileEntry is a listing row before its download link has been resolved.
type fileEntry struct {
	ID   string
	Name string
}
