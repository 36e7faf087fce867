package types //nolint:revive // package name is intentional

// BatchItem pairs an input with its caller-visible position.
type BatchItem struct {
	Index int            `json:"index"`
	Input InferenceInput `json:"input"`
}

// BatchRequest is an ordered list of items.
type BatchRequest []BatchItem

// NewBatch indexes inputs by their position.
func NewBatch(inputs ...InferenceInput) BatchRequest {
	req := make(BatchRequest, len(inputs))
	for i, in := range inputs {
		req[i] = BatchItem{Index: i, Input: in}
	}
	return req
}

// Result is the outcome of one batch item. Exactly one of Output and Err is set.
type Result struct {
	Index  int
	Output *InferenceOutput
	Err    error
}

// OK reports whether the item succeeded.
func (r Result) OK() bool { return r.Err == nil && r.Output != nil }

// BatchResult holds one Result per input, ordered by index.
type BatchResult []Result

// Outputs returns the outputs aligned by index; failed slots are nil.
func (b BatchResult) Outputs() []*InferenceOutput {
	out := make([]*InferenceOutput, len(b))
	for i, r := range b {
		out[i] = r.Output
	}
	return out
}

// Errors returns the errors aligned by index; successful slots are nil.
func (b BatchResult) Errors() []error {
	out := make([]error, len(b))
	for i, r := range b {
		out[i] = r.Err
	}
	return out
}

// Succeeded counts successful items.
func (b BatchResult) Succeeded() int {
	n := 0
	for _, r := range b {
		if r.OK() {
			n++
		}
	}
	return n
}
