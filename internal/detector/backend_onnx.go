//go:build onnx
// +build onnx

package detector

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/raaihank/pii-vault/internal/logger"
)

// OnnxBackend implements NERBackend using a token-classification model run
// through ONNX Runtime (via yalue/onnxruntime_go). The model directory must
// contain model.onnx and vocab.txt; labels.txt overrides the default
// CoNLL-style label set.
type OnnxBackend struct {
	session    *ort.DynamicAdvancedSession
	inputNames []string
	outputName string
	vocab      map[string]int64
	labels     []string
	maxLength  int
	logger     *logger.Logger
	ready      bool
	mu         sync.RWMutex
}

const (
	clsToken = "[CLS]"
	sepToken = "[SEP]"
	unkToken = "[UNK]"
	padToken = "[PAD]"
)

// defaultLabels is the CoNLL-2003 BIO label order used by most exported
// bert-base-NER checkpoints.
var defaultLabels = []string{
	"O", "B-MISC", "I-MISC", "B-PER", "I-PER", "B-ORG", "I-ORG", "B-LOC", "I-LOC",
}

// entityTypeForLabel maps model label suffixes to our categories.
var entityTypeForLabel = map[string]EntityType{
	"PER": Person,
	"ORG": Organization,
	"LOC": Address,
}

// NewNERBackend initializes the ONNX Runtime backend. Requires build tag 'onnx'.
func NewNERBackend(log *logger.Logger, modelPath string, maxLength int) NERBackend {
	// Allow user to provide shared library path via environment variable.
	if shlib := os.Getenv("ONNXRUNTIME_SHARED_LIB"); shlib != "" {
		ort.SetSharedLibraryPath(shlib)
	} else if shlib := os.Getenv("ORT_SHLIB"); shlib != "" {
		ort.SetSharedLibraryPath(shlib)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		log.Error("ONNX Runtime environment init failed", zap.Error(err))
		return nil
	}

	modelFile := filepath.Join(modelPath, "model.onnx")

	vocab, err := loadVocab(filepath.Join(modelPath, "vocab.txt"))
	if err != nil {
		log.Error("Failed to load vocab", zap.Error(err), zap.String("model", modelPath))
		return nil
	}

	labels := defaultLabels
	if custom, err := loadLabels(filepath.Join(modelPath, "labels.txt")); err == nil && len(custom) > 0 {
		labels = custom
	}

	// Inspect model IO to determine names
	inputsInfo, outputsInfo, err := ort.GetInputOutputInfo(modelFile)
	if err != nil {
		log.Error("Failed to inspect ONNX model IO", zap.Error(err), zap.String("model", modelFile))
		return nil
	}

	// Prefer common transformer inputs order
	preferredInputs := []string{"input_ids", "attention_mask", "token_type_ids"}
	available := map[string]bool{}
	for _, ii := range inputsInfo {
		available[strings.ToLower(ii.Name)] = true
	}
	var inputNames []string
	for _, name := range preferredInputs {
		if available[name] {
			inputNames = append(inputNames, name)
		}
	}
	// If no preferred names matched, fall back to model-declared order
	if len(inputNames) == 0 && len(inputsInfo) > 0 {
		sorted := make([]string, 0, len(inputsInfo))
		for _, ii := range inputsInfo {
			sorted = append(sorted, ii.Name)
		}
		sort.Strings(sorted)
		inputNames = sorted
	}

	if len(outputsInfo) == 0 {
		log.Error("ONNX model reports no outputs", zap.String("model", modelFile))
		return nil
	}
	outputName := outputsInfo[0].Name

	sess, err := ort.NewDynamicAdvancedSession(modelFile, inputNames, []string{outputName}, nil)
	if err != nil {
		log.Error("ONNX Runtime session creation failed", zap.Error(err), zap.String("model", modelFile))
		return nil
	}

	log.Info("ONNX NER backend ready",
		zap.String("model", modelFile),
		zap.Strings("inputs", inputNames),
		zap.String("output", outputName),
		zap.Int("vocab_size", len(vocab)),
	)

	return &OnnxBackend{
		session:    sess,
		inputNames: inputNames,
		outputName: outputName,
		vocab:      vocab,
		labels:     labels,
		maxLength:  maxLength,
		logger:     log,
		ready:      true,
	}
}

// IsReady reports whether the backend is initialized.
func (b *OnnxBackend) IsReady() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ready && b.session != nil
}

// Close releases session and environment resources.
func (b *OnnxBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session != nil {
		b.session.Destroy()
		b.session = nil
	}
	ort.DestroyEnvironment()
	b.ready = false
	return nil
}

// word is a whitespace-delimited run of text with byte offsets.
type word struct {
	text  string
	start int
	end   int
}

// Recognize runs token classification and merges BIO labels into entities.
func (b *OnnxBackend) Recognize(ctx context.Context, text string) ([]Entity, error) {
	if !b.IsReady() {
		return nil, fmt.Errorf("onnx backend not ready")
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	words := splitWords(text)
	if len(words) == 0 {
		return nil, nil
	}

	// Tokenize to wordpieces, remembering which word each token came from.
	inputIDs := []int64{b.vocab[clsToken]}
	wordIndex := []int{-1} // -1 marks special tokens
	for wi, w := range words {
		for _, id := range b.wordpiece(w.text) {
			if len(inputIDs) >= b.maxLength-1 {
				break
			}
			inputIDs = append(inputIDs, id)
			wordIndex = append(wordIndex, wi)
		}
	}
	inputIDs = append(inputIDs, b.vocab[sepToken])
	wordIndex = append(wordIndex, -1)

	seqLen := len(inputIDs)
	attention := make([]int64, seqLen)
	tokenTypes := make([]int64, seqLen)
	for i := range attention {
		attention[i] = 1
	}

	shape := ort.NewShape(1, int64(seqLen))
	idsTensor, err := ort.NewTensor[int64](shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()
	maskTensor, err := ort.NewTensor[int64](shape, attention)
	if err != nil {
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()
	typeTensor, err := ort.NewTensor[int64](shape, tokenTypes)
	if err != nil {
		return nil, fmt.Errorf("failed to create token_type_ids tensor: %w", err)
	}
	defer typeTensor.Destroy()

	inputs := make([]ort.Value, 0, len(b.inputNames))
	for _, rawName := range b.inputNames {
		name := strings.ToLower(rawName)
		switch {
		case strings.Contains(name, "ids") && !strings.Contains(name, "token_type"):
			inputs = append(inputs, idsTensor)
		case strings.Contains(name, "attention") || strings.Contains(name, "mask"):
			inputs = append(inputs, maskTensor)
		default:
			inputs = append(inputs, typeTensor)
		}
	}

	outputs := []ort.Value{nil}
	if err := b.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("onnx inference failed: %w", err)
	}
	logitsTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type")
	}
	defer logitsTensor.Destroy()

	logits := logitsTensor.GetData()
	numLabels := len(b.labels)
	if len(logits) < seqLen*numLabels {
		return nil, fmt.Errorf("logits shape mismatch: got %d values for %d tokens", len(logits), seqLen)
	}

	// Label each word by its first subtoken.
	wordLabel := make([]string, len(words))
	wordScore := make([]float64, len(words))
	seen := make([]bool, len(words))
	for ti := 0; ti < seqLen; ti++ {
		wi := wordIndex[ti]
		if wi < 0 || seen[wi] {
			continue
		}
		seen[wi] = true
		label, score := argmaxSoftmax(logits[ti*numLabels:(ti+1)*numLabels], b.labels)
		wordLabel[wi] = label
		wordScore[wi] = score
	}

	return mergeBIO(text, words, wordLabel, wordScore), nil
}

// mergeBIO folds BIO-labelled words into entity spans.
func mergeBIO(text string, words []word, labels []string, scores []float64) []Entity {
	var entities []Entity
	var cur *Entity
	var curScores []float64

	flush := func() {
		if cur == nil {
			return
		}
		total := 0.0
		for _, s := range curScores {
			total += s
		}
		cur.Confidence = total / float64(len(curScores))
		cur.Text = text[cur.Start:cur.End]
		entities = append(entities, *cur)
		cur = nil
		curScores = nil
	}

	for i, w := range words {
		label := labels[i]
		if label == "" || label == "O" {
			flush()
			continue
		}

		prefix, suffix, ok := strings.Cut(label, "-")
		if !ok {
			flush()
			continue
		}
		typ, known := entityTypeForLabel[suffix]
		if !known {
			flush()
			continue
		}

		if cur != nil && prefix == "I" && cur.Type == typ {
			cur.End = w.end
			curScores = append(curScores, scores[i])
			continue
		}

		flush()
		cur = &Entity{Type: typ, Start: w.start, End: w.end}
		curScores = []float64{scores[i]}
	}
	flush()

	return entities
}

// wordpiece tokenizes a single word with greedy longest-match-first.
func (b *OnnxBackend) wordpiece(w string) []int64 {
	lower := strings.ToLower(w)
	var ids []int64
	start := 0
	for start < len(lower) {
		end := len(lower)
		var id int64 = -1
		for end > start {
			piece := lower[start:end]
			if start > 0 {
				piece = "##" + piece
			}
			if v, ok := b.vocab[piece]; ok {
				id = v
				break
			}
			end--
		}
		if id < 0 {
			return []int64{b.vocab[unkToken]}
		}
		ids = append(ids, id)
		start = end
	}
	return ids
}

func splitWords(text string) []word {
	var words []word
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				words = append(words, word{text: text[start:i], start: start, end: i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		words = append(words, word{text: text[start:], start: start, end: len(text)})
	}
	return words
}

func argmaxSoftmax(logits []float32, labels []string) (string, float64) {
	best := 0
	for i := 1; i < len(logits); i++ {
		if logits[i] > logits[best] {
			best = i
		}
	}

	// Softmax probability of the winning label.
	var sum float64
	maxLogit := float64(logits[best])
	for _, l := range logits {
		sum += math.Exp(float64(l) - maxLogit)
	}

	return labels[best], 1.0 / sum
}

func loadVocab(path string) (map[string]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	vocab := make(map[string]int64)
	scanner := bufio.NewScanner(f)
	var id int64
	for scanner.Scan() {
		vocab[scanner.Text()] = id
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return vocab, nil
}

func loadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			labels = append(labels, line)
		}
	}
	return labels, scanner.Err()
}
