// Package api serves the kernels over HTTP with echo.
package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v5"
	"github.com/samber/lo"

	"github.com/samcharles93/moefuse/internal/logger"
	"github.com/samcharles93/moefuse/internal/metrics"
	"github.com/samcharles93/moefuse/internal/moe"
	"github.com/samcharles93/moefuse/internal/swiglu"
	"github.com/samcharles93/moefuse/internal/tensor"
)

const defaultDType = "f32"

type Server struct {
	kernel   *swiglu.Kernel
	permuter moe.Permuter
	log      logger.Logger
}

// NewServer wires the kernels behind the HTTP handlers. A nil kernel gets a
// private autotuning one.
func NewServer(kernel *swiglu.Kernel, permuter moe.Permuter, log logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	if kernel == nil {
		kernel = &swiglu.Kernel{Log: log}
	}
	return &Server{kernel: kernel, permuter: permuter, log: log}
}

// NewEcho returns an echo instance using goccy/go-json for bodies.
func NewEcho() *echo.Echo {
	e := echo.New()
	e.JSONSerializer = serializer{}
	return e
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	e.POST("/v1/activation", s.handleActivation)
	e.POST("/v1/permute", s.handlePermute)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleActivation(c *echo.Context) error {
	req, err := decodeJSON[ActivationRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	dt, err := floatDType(req.DType)
	if err != nil {
		return writeError(c, http.StatusBadRequest, "invalid_request_error", err.Error(), "dtype", "")
	}
	if len(req.A) != len(req.B) {
		return writeError(c, http.StatusBadRequest, "invalid_request_error",
			fmt.Sprintf("a has %d values, b has %d", len(req.A), len(req.B)), "b", "")
	}
	shape := req.Shape
	if len(shape) == 0 {
		shape = []int{len(req.A)}
	}
	a, err := tensor.FromFloat32(dt, req.A, shape...)
	if err != nil {
		return writeError(c, http.StatusBadRequest, "invalid_request_error", err.Error(), "a", "")
	}
	b, err := tensor.FromFloat32(dt, req.B, shape...)
	if err != nil {
		return writeError(c, http.StatusBadRequest, "invalid_request_error", err.Error(), "b", "")
	}

	out, err := s.kernel.Forward(a, b)
	if err != nil {
		return writeKernelError(c, err)
	}
	vals, err := out.Float32s()
	if err != nil {
		return writeKernelError(c, err)
	}
	return c.JSON(http.StatusOK, ActivationResponse{
		DType: dt.String(),
		Shape: out.Shape(),
		C:     vals,
	})
}

func (s *Server) handlePermute(c *echo.Context) error {
	req, err := decodeJSON[PermuteRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	dt, err := floatDType(req.DType)
	if err != nil {
		return writeError(c, http.StatusBadRequest, "invalid_request_error", err.Error(), "dtype", "")
	}
	x, err := tensor.FromFloat32(dt, req.X, req.Shape...)
	if err != nil {
		return writeError(c, http.StatusBadRequest, "invalid_request_error", err.Error(), "x", "")
	}
	top, err := tensor.FromInts(tensor.I32, req.TopExperts, len(req.TopExperts))
	if err != nil {
		return writeError(c, http.StatusBadRequest, "invalid_request_error", err.Error(), "top_experts", "")
	}
	var counts *tensor.Tensor
	if req.TokensPerExpert == nil {
		counts, err = moe.CountExperts(top, req.NumExperts)
		if err != nil {
			return writeKernelError(c, err)
		}
	} else {
		counts, err = tensor.FromInts(tensor.I32, req.TokensPerExpert, len(req.TokensPerExpert))
		if err != nil {
			return writeError(c, http.StatusBadRequest, "invalid_request_error", err.Error(), "tokens_per_expert", "")
		}
	}

	p := s.permuter
	if req.BlockSize != 0 {
		p.BlockSize = req.BlockSize
	}
	if p.Log == nil {
		p.Log = s.log
	}
	res, err := p.PermuteAndPad(x, top, counts, req.TopK, req.NumExperts)
	if err != nil {
		return writeKernelError(c, err)
	}
	tokens, err := res.Tokens.Float32s()
	if err != nil {
		return writeKernelError(c, err)
	}
	padded, err := res.TokensPerExpert.Ints()
	if err != nil {
		return writeKernelError(c, err)
	}
	return c.JSON(http.StatusOK, PermuteResponse{
		DType:           dt.String(),
		Shape:           res.Tokens.Shape(),
		Tokens:          tokens,
		TokensPerExpert: padded,
		Segments: lo.Map(res.Layout.Segments(), func(seg moe.Segment, _ int) SegmentInfo {
			return SegmentInfo{Expert: seg.Expert, Start: seg.Start, RealEnd: seg.RealEnd, End: seg.End}
		}),
	})
}

func floatDType(name string) (tensor.DType, error) {
	if name == "" {
		name = defaultDType
	}
	dt, err := tensor.ParseDType(name)
	if err != nil {
		return 0, err
	}
	if !dt.IsFloat() {
		return 0, fmt.Errorf("dtype %s is not a floating-point type", dt)
	}
	return dt, nil
}
