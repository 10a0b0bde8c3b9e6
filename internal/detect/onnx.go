package detect

import (
	"context"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/tensor"
)

// ONNXConfig describes an exported single-class detector.
type ONNXConfig struct {
	ModelPath         string
	SharedLibraryPath string
	InputName         string
	BoxesOutput       string
	ScoresOutput      string
	InputWidth        int
	InputHeight       int
	OutputRows        int // N of the (1,N,6) output
}

var (
	ortOnce sync.Once
	ortErr  error
)

// ONNXModel runs a detector through ONNX Runtime.
type ONNXModel struct {
	cfg     ONNXConfig
	logger  *logger.Logger
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	boxes   *ort.Tensor[float32]
	scores  *ort.Tensor[float32]
	mu      sync.Mutex
}

// NewONNXModel loads the model, allocates its bound tensors and runs one
// warm-up inference.
func NewONNXModel(cfg ONNXConfig, log *logger.Logger) (*ONNXModel, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file not accessible: %w", err)
	}
	if cfg.InputWidth <= 0 || cfg.InputHeight <= 0 || cfg.OutputRows <= 0 {
		return nil, fmt.Errorf("invalid model dimensions %dx%d rows=%d", cfg.InputWidth, cfg.InputHeight, cfg.OutputRows)
	}

	ortOnce.Do(func() {
		if cfg.SharedLibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.SharedLibraryPath)
		}
		ortErr = ort.InitializeEnvironment()
	})
	if ortErr != nil {
		return nil, fmt.Errorf("failed to initialize onnxruntime: %w", ortErr)
	}

	h, w := int64(cfg.InputHeight), int64(cfg.InputWidth)
	input, err := ort.NewTensor(ort.NewShape(1, h, w, 3), make([]float32, h*w*3))
	if err != nil {
		return nil, fmt.Errorf("failed to allocate input tensor: %w", err)
	}
	rows := int64(cfg.OutputRows)
	boxes, err := ort.NewEmptyTensor[float32](ort.NewShape(1, rows, RowWidth))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("failed to allocate boxes tensor: %w", err)
	}
	scores, err := ort.NewEmptyTensor[float32](ort.NewShape(1, rows, 1))
	if err != nil {
		input.Destroy()
		boxes.Destroy()
		return nil, fmt.Errorf("failed to allocate scores tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.BoxesOutput, cfg.ScoresOutput},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{boxes, scores},
		nil,
	)
	if err != nil {
		input.Destroy()
		boxes.Destroy()
		scores.Destroy()
		return nil, fmt.Errorf("failed to create onnx session: %w", err)
	}

	m := &ONNXModel{
		cfg:     cfg,
		logger:  log,
		session: session,
		input:   input,
		boxes:   boxes,
		scores:  scores,
	}

	// Warm-up on an all-ones input.
	data := input.GetData()
	for i := range data {
		data[i] = 1
	}
	if err := session.Run(); err != nil {
		m.Close()
		return nil, fmt.Errorf("model warm-up failed: %w", err)
	}

	log.Info("ONNX model loaded",
		"path", cfg.ModelPath,
		"input_width", cfg.InputWidth,
		"input_height", cfg.InputHeight,
		"output_rows", cfg.OutputRows,
	)
	return m, nil
}

// InputSize returns the model input width and height.
func (m *ONNXModel) InputSize() (int, int) {
	return m.cfg.InputWidth, m.cfg.InputHeight
}

// Infer runs one frame. Outputs are copied into arena tensors so the
// session's bound buffers can be reused by the next call.
func (m *ONNXModel) Infer(ctx context.Context, input *tensor.Tensor, arena *tensor.Arena) (*tensor.Tensor, *tensor.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	want := []int{1, m.cfg.InputHeight, m.cfg.InputWidth, 3}
	if input.Rank() != 4 || tensor.Size(input.Shape) != tensor.Size(want) {
		return nil, nil, fmt.Errorf("%w: input shape %v, want %v", ErrShapeMismatch, input.Shape, want)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	copy(m.input.GetData(), input.Data)
	if err := m.session.Run(); err != nil {
		return nil, nil, fmt.Errorf("inference failed: %w", err)
	}

	rows := m.cfg.OutputRows
	boxes := arena.New(1, rows, RowWidth)
	copy(boxes.Data, m.boxes.GetData())
	scores := arena.New(1, rows, 1)
	copy(scores.Data, m.scores.GetData())
	return boxes, scores, nil
}

// Close destroys the session and its tensors.
func (m *ONNXModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for _, destroy := range []func() error{m.session.Destroy, m.input.Destroy, m.boxes.Destroy, m.scores.Destroy} {
		if err := destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
