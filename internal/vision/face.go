package vision

// Box is a face bounding box with coordinates normalized to [0, 1]
// relative to the source image.
type Box struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	W float32 `json:"w"`
	H float32 `json:"h"`
}

// Face is one detected face with its identity embedding. Age and gender are
// optional; check the Has* flags before reading them.
type Face struct {
	Embedding  []float32 `json:"-"`
	Box        Box       `json:"box"`
	Confidence float32   `json:"confidence"`

	Age    float32 `json:"age,omitempty"`
	HasAge bool    `json:"-"`

	Gender           string  `json:"gender,omitempty"`
	GenderConfidence float32 `json:"gender_confidence,omitempty"`
	HasGender        bool    `json:"-"`
}

// LivenessScores are the anti-spoof model's verdicts for one face crop.
// Real is the confidence the image is not synthetic or printed; Live is the
// confidence it is not a replayed recording.
type LivenessScores struct {
	Real float32 `json:"real_score"`
	Live float32 `json:"live_score"`
}

// Detection is a raw detector hit in pixel coordinates (x1, y1, x2, y2).
type Detection struct {
	BBox       [4]float32
	Confidence float32
}

// FaceDetector locates faces in a preprocessed CHW image buffer.
type FaceDetector interface {
	Detect(input []float32, origW, origH int) ([]Detection, error)
	InputSize() (int, int)
	Close()
}

// FaceEmbedder turns a preprocessed face crop into an identity embedding.
type FaceEmbedder interface {
	Embed(input []float32) ([]float32, error)
	InputSize() (int, int)
	Dim() int
	Close()
}

// AttrPredictor predicts optional gender/age attributes for a face crop.
type AttrPredictor interface {
	Predict(input []float32) (*GenderAge, error)
	InputSize() (int, int)
	Close()
}

// SpoofPredictor scores a face crop for anti-spoof and liveness. It is the
// expensive check reserved for the selfie path.
type SpoofPredictor interface {
	Predict(input []float32) (LivenessScores, error)
	InputSize() (int, int)
	Close()
}
