package filesystem

const (
	// TemporaryNamePrefix is the file name prefix used for all temporary files
	// created by pathwatch, such as the intermediate files of atomic writes.
	TemporaryNamePrefix = ".pathwatch-temporary-"
)
