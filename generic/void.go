package generic

// Void is the zero-size value stored in sets and returned by error-only results.
type Void struct{}

func NewVoid() Void {
	return Void{}
}
