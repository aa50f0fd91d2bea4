package model

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"

	"nano-chat-go/engine"
)

// ONNXRunner implements engine.ModelRunner on ONNX Runtime. Every step
// runs the exported decoder over the full token sequence and samples from
// the last position's logits; there is no KV state carried across steps.
type ONNXRunner struct {
	modelPath   string
	vocabSize   int
	threads     int
	initialized bool
}

// NewONNXRunner initializes the ONNX Runtime environment and prepares a
// runner for the exported model.
func NewONNXRunner(modelPath string, vocabSize int) (*ONNXRunner, error) {
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	if vocabSize <= 0 {
		return nil, fmt.Errorf("vocab size must be positive, got %d", vocabSize)
	}

	return &ONNXRunner{
		modelPath:   modelPath,
		vocabSize:   vocabSize,
		threads:     4,
		initialized: true,
	}, nil
}

// Step executes one forward pass and samples the next token
func (m *ONNXRunner) Step(seq *engine.Sequence) (int, error) {
	logits, err := m.forward(seq, nil)
	if err != nil {
		return 0, err
	}
	return Sample(logits, seq.Temperature, seq.TopK, seq.TopP), nil
}

// forward runs the model over the sequence and returns the logits for the
// last position. pixels, when non-nil, is fed as the model's image input.
func (m *ONNXRunner) forward(seq *engine.Sequence, pixels *engine.Image) ([]float32, error) {
	if !m.initialized {
		return nil, fmt.Errorf("model runner not initialized")
	}
	if seq.Len() == 0 {
		return nil, fmt.Errorf("sequence %d has no tokens", seq.SeqID)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	if err := options.SetIntraOpNumThreads(m.threads); err != nil {
		return nil, fmt.Errorf("failed to set threads: %w", err)
	}

	inputIDs := seq.TokenIDs
	inputShape := ort.NewShape(1, int64(len(inputIDs)))
	inputData := make([]int64, len(inputIDs))
	for i, id := range inputIDs {
		inputData[i] = int64(id)
	}

	inputTensor, err := ort.NewTensor(inputShape, inputData)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputShape := ort.NewShape(1, int64(len(inputIDs)), int64(m.vocabSize))
	outputData := make([]float32, len(inputIDs)*m.vocabSize)
	outputTensor, err := ort.NewTensor(outputShape, outputData)
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	inputNames := []string{"input_ids"}
	inputs := []ort.Value{inputTensor}

	if pixels != nil {
		pixelTensor, err := ort.NewTensor(ort.NewShape(pixels.Shape...), pixels.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to create pixel tensor: %w", err)
		}
		defer pixelTensor.Destroy()
		inputNames = append(inputNames, "pixel_values")
		inputs = append(inputs, pixelTensor)
	}

	session, err := ort.NewAdvancedSession(
		m.modelPath,
		inputNames,
		[]string{"logits"},
		inputs,
		[]ort.Value{outputTensor},
		options,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Destroy()

	if err := session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	logits := outputTensor.GetData()
	lastTokenStart := (len(inputIDs) - 1) * m.vocabSize
	return logits[lastTokenStart : lastTokenStart+m.vocabSize], nil
}

// Close cleans up resources
func (m *ONNXRunner) Close() error {
	m.initialized = false
	return nil
}

// VisionONNXRunner extends ONNXRunner with an image input, for exported
// vision-language models that take pixel_values alongside input_ids.
type VisionONNXRunner struct {
	ONNXRunner
}

// NewVisionONNXRunner prepares a vision-capable ONNX runner
func NewVisionONNXRunner(modelPath string, vocabSize int) (*VisionONNXRunner, error) {
	base, err := NewONNXRunner(modelPath, vocabSize)
	if err != nil {
		return nil, err
	}
	return &VisionONNXRunner{ONNXRunner: *base}, nil
}

// StepWithImage executes one image-conditioned forward pass and samples
// the next token
func (m *VisionONNXRunner) StepWithImage(seq *engine.Sequence, img *engine.Image) (int, error) {
	logits, err := m.forward(seq, img)
	if err != nil {
		return 0, err
	}
	return Sample(logits, seq.Temperature, seq.TopK, seq.TopP), nil
}
