package coord

// tree is the node store behind a Coordinator. Paths are absolute.
type tree interface {
	exists(path string) (bool, error)
	// get reports false when the node is missing.
	get(path string) ([]byte, bool, error)
	// put creates missing parents and overwrites existing data.
	put(path string, data []byte) error
	// putEphemeral creates a node owned by this session, replacing any
	// previous node at path.
	putEphemeral(path string, data []byte) error
	// children returns nil for a missing node.
	children(path string) ([]string, error)
	// removeAll deletes path and its subtree; a missing path is not an error.
	removeAll(path string) error
	// watchDelete calls fn once when path disappears (immediately when it is
	// already missing). The returned func cancels the watch.
	watchDelete(path string, fn func()) (cancel func(), err error)
	done() <-chan struct{}
	err() error
	close() error
}
