package constants

// Option is exported for tests.
type Option = option

func WithBaseDir(baseDir func() (string, error)) option {
	return func(o *options) {
		o.baseDir = baseDir
	}
}
