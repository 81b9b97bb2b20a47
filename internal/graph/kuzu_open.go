//go:build cgo

package graph

func init() {
	kuzuOpener = func(path string) (Engine, error) {
		if path == "" || path == ":memory:" {
			return NewKuzuGraph()
		}
		return NewKuzuFileGraph(path)
	}
}
