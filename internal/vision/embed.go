package vision

import (
	"fmt"
	"math"

	ort "github.com/yalue/onnxruntime_go"
)

// ArcFaceEmbedder extracts face embeddings using an ArcFace ONNX model.
type ArcFaceEmbedder struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	inputW       int
	inputH       int
	dim          int
}

// NewArcFaceEmbedder loads the ArcFace ONNX model. dim must match the
// model's output size (512 for w600k_r50); it is the process-wide embedding
// dimensionality every stored vector is validated against.
func NewArcFaceEmbedder(modelPath string, dim int) (*ArcFaceEmbedder, error) {
	// ArcFace models expect 112x112 aligned face crops.
	inputW, inputH := 112, 112

	inputShape := ort.NewShape(1, 3, int64(inputH), int64(inputW))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputShape := ort.NewShape(1, int64(dim))
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		[]string{"683"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create embedder session: %w", err)
	}

	return &ArcFaceEmbedder{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		inputW:       inputW,
		inputH:       inputH,
		dim:          dim,
	}, nil
}

// Embed runs embedding extraction on a preprocessed face crop.
// input should be CHW format [3, 112, 112], normalized.
// Returns an L2-normalized embedding vector.
func (e *ArcFaceEmbedder) Embed(input []float32) ([]float32, error) {
	inputSlice := e.inputTensor.GetData()
	copy(inputSlice, input)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("run embedding: %w", err)
	}

	outputData := e.outputTensor.GetData()

	embedding := make([]float32, e.dim)
	copy(embedding, outputData)

	l2normalize(embedding)

	return embedding, nil
}

// InputSize returns the expected face crop dimensions.
func (e *ArcFaceEmbedder) InputSize() (int, int) {
	return e.inputW, e.inputH
}

// Dim returns the embedding vector dimension.
func (e *ArcFaceEmbedder) Dim() int {
	return e.dim
}

func (e *ArcFaceEmbedder) Close() {
	if e.session != nil {
		e.session.Destroy()
	}
	if e.inputTensor != nil {
		e.inputTensor.Destroy()
	}
	if e.outputTensor != nil {
		e.outputTensor.Destroy()
	}
}

// l2normalize performs L2 normalization in-place.
func l2normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := float32(math.Sqrt(sum))
	if norm > 0 {
		for i := range v {
			v[i] /= norm
		}
	}
}
