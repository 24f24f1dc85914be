package api

// ActivationRequest carries two same-shape inputs for the fused gate.
// Shape defaults to a flat vector of len(A) elements.
type ActivationRequest struct {
	DType string    `json:"dtype,omitempty"`
	Shape []int     `json:"shape,omitempty"`
	A     []float32 `json:"a"`
	B     []float32 `json:"b"`
}

type ActivationResponse struct {
	DType string    `json:"dtype"`
	Shape []int     `json:"shape"`
	C     []float32 `json:"c"`
}

// PermuteRequest routes X, shaped [N, D], to experts. TokensPerExpert is
// derived from TopExperts when omitted.
type PermuteRequest struct {
	DType           string    `json:"dtype,omitempty"`
	Shape           []int     `json:"shape"`
	X               []float32 `json:"x"`
	TopExperts      []int     `json:"top_experts"`
	TokensPerExpert []int     `json:"tokens_per_expert,omitempty"`
	TopK            int       `json:"topk"`
	NumExperts      int       `json:"num_experts"`
	BlockSize       int       `json:"block_size,omitempty"`
}

type PermuteResponse struct {
	DType           string        `json:"dtype"`
	Shape           []int         `json:"shape"`
	Tokens          []float32     `json:"tokens"`
	TokensPerExpert []int         `json:"tokens_per_expert"`
	Segments        []SegmentInfo `json:"segments"`
}

type SegmentInfo struct {
	Expert  int `json:"expert"`
	Start   int `json:"start"`
	RealEnd int `json:"real_end"`
	End     int `json:"end"`
}

type ResponseError struct {
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}
