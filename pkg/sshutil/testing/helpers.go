package testing

import "sort"

// WithFiles seeds the mock filesystem, typically with what a remote command
// would have left in its output dir. Keys are remote paths. Files are written
// in path order so listings are stable.
func WithFiles(client *MockClient, files map[string]string) *MockClient {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		_ = client.GetFS().WriteFile(p, []byte(files[p]))
	}
	return client
}
