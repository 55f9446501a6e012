package vision

import (
	"fmt"
	"math"

	ort "github.com/yalue/onnxruntime_go"
)

// MiniFASPredictor scores face crops for presentation attacks using a
// MiniFASNet-style ONNX model. It runs only on the selfie registration path;
// batch photo ingestion never pays for it.
type MiniFASPredictor struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	inputW       int
	inputH       int
}

// NewMiniFASPredictor loads the anti-spoof ONNX model.
func NewMiniFASPredictor(modelPath string) (*MiniFASPredictor, error) {
	// MiniFASNet expects 80x80 crops.
	inputW, inputH := 80, 80

	inputShape := ort.NewShape(1, 3, int64(inputH), int64(inputW))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	// Output: [1, 3] logits — [print/synthetic, genuine, replay].
	outputShape := ort.NewShape(1, 3)
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"},
		[]string{"output"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create antispoof session: %w", err)
	}

	return &MiniFASPredictor{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		inputW:       inputW,
		inputH:       inputH,
	}, nil
}

// Predict runs anti-spoof scoring on a preprocessed face crop.
// input should be CHW format [3, 80, 80], normalized.
func (p *MiniFASPredictor) Predict(input []float32) (LivenessScores, error) {
	inputSlice := p.inputTensor.GetData()
	copy(inputSlice, input)

	if err := p.session.Run(); err != nil {
		return LivenessScores{}, fmt.Errorf("run antispoof: %w", err)
	}

	data := p.outputTensor.GetData()
	if len(data) < 3 {
		return LivenessScores{}, fmt.Errorf("unexpected output size: %d", len(data))
	}

	probs := softmax3(data[0], data[1], data[2])

	// Real: genuine vs print/synthetic. Live: genuine vs screen replay.
	return LivenessScores{
		Real: 1 - probs[0],
		Live: 1 - probs[2],
	}, nil
}

// InputSize returns the expected face crop dimensions.
func (p *MiniFASPredictor) InputSize() (int, int) {
	return p.inputW, p.inputH
}

func (p *MiniFASPredictor) Close() {
	if p.session != nil {
		p.session.Destroy()
	}
	if p.inputTensor != nil {
		p.inputTensor.Destroy()
	}
	if p.outputTensor != nil {
		p.outputTensor.Destroy()
	}
}

func softmax3(a, b, c float32) [3]float32 {
	max := a
	if b > max {
		max = b
	}
	if c > max {
		max = c
	}
	ea := float32(math.Exp(float64(a - max)))
	eb := float32(math.Exp(float64(b - max)))
	ec := float32(math.Exp(float64(c - max)))
	sum := ea + eb + ec
	return [3]float32{ea / sum, eb / sum, ec / sum}
}
