package model

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"golang.org/x/crypto/sha3"

	"sentra/pkg/config"
	"sentra/pkg/logging"
	"sentra/pkg/threat"
)

// LoadError reports which integrity stage rejected a model package.
type LoadError struct {
	Stage string // signature, decode, checksum, topology, weights
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("model load failed at %s: %v", e.Stage, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Status reports the loader's integrity state for the response envelope.
type Status struct {
	Loaded         bool   `json:"loaded"`
	SignatureValid bool   `json:"signatureValid"`
	Verified       bool   `json:"verified"`
	Version        string `json:"version,omitempty"`
}

// packageFile is the on-disk model format: weight and bias arrays named
// layer_0..layer_N, mapped onto the configured topology at load time. The
// weights field stays raw so the checksum covers the producer's exact bytes.
type packageFile struct {
	Version    string               `json:"version"`
	Activation string               `json:"activation"`
	Weights    json.RawMessage      `json:"weights"`
	Biases     map[string][]float64 `json:"biases"`
	Checksum   string               `json:"checksum"`
}

// Loader verifies and installs model packages, and serves predictions. A
// load failure never disturbs a previously installed model.
type Loader struct {
	cfg config.Config
	pub *rsa.PublicKey
	log *logging.Logger

	mu       sync.RWMutex
	net      *Network
	sigValid bool
	version  string
}

// NewLoader builds a loader. pub may be nil only for test fixtures; with a
// nil key every signed load is rejected at the signature stage.
func NewLoader(cfg config.Config, pub *rsa.PublicKey, log *logging.Logger) *Loader {
	if log == nil {
		log = logging.New("model", logging.LevelInfo, nil)
	}
	return &Loader{cfg: cfg, pub: pub, log: log}
}

// Load verifies signature, checksum, topology and weight bounds, then
// atomically installs the model. Any failure returns a *LoadError and leaves
// the current model (or the unloaded state) in place.
func (l *Loader) Load(payload, signature []byte) error {
	if l.pub == nil {
		return &LoadError{Stage: "signature", Err: fmt.Errorf("no verification key configured")}
	}
	digest := sha256.Sum256(payload)
	opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto, Hash: crypto.SHA256}
	if err := rsa.VerifyPSS(l.pub, crypto.SHA256, digest[:], signature, opts); err != nil {
		l.log.Error("model signature rejected", logging.Fields{"error": err.Error()})
		return &LoadError{Stage: "signature", Err: err}
	}

	net, version, err := l.parse(payload)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.net = net
	l.sigValid = true
	l.version = version
	l.mu.Unlock()
	l.log.Info("model installed", logging.Fields{"version": version, "topology": net.Topology()})
	return nil
}

// parse decodes and integrity-checks a package without touching loader
// state.
func (l *Loader) parse(payload []byte) (*Network, string, error) {
	raw := payload
	var pkg packageFile
	if err := json.Unmarshal(raw, &pkg); err != nil {
		// The feed may deliver the JSON base64-wrapped.
		decoded, b64err := base64.StdEncoding.DecodeString(string(raw))
		if b64err != nil {
			return nil, "", &LoadError{Stage: "decode", Err: err}
		}
		if err := json.Unmarshal(decoded, &pkg); err != nil {
			return nil, "", &LoadError{Stage: "decode", Err: err}
		}
	}
	if len(pkg.Weights) == 0 {
		return nil, "", &LoadError{Stage: "decode", Err: fmt.Errorf("missing weights")}
	}
	if pkg.Activation == "" {
		// Older artifacts omit the activation; the configured default applies.
		pkg.Activation = l.cfg.Activation
	}
	switch pkg.Activation {
	case "relu", "sigmoid", "tanh", "linear":
	default:
		l.log.Warn("unknown activation, using linear", logging.Fields{"activation": pkg.Activation})
	}

	sum := sha3.Sum256(pkg.Weights)
	if hex.EncodeToString(sum[:]) != pkg.Checksum {
		return nil, "", &LoadError{Stage: "checksum", Err: fmt.Errorf("weights checksum mismatch")}
	}

	var weights map[string][][]float64
	if err := json.Unmarshal(pkg.Weights, &weights); err != nil {
		return nil, "", &LoadError{Stage: "decode", Err: fmt.Errorf("parse weights: %w", err)}
	}

	sizes := l.cfg.LayerSizes()
	if len(weights) != len(sizes)-1 || len(pkg.Biases) != len(sizes)-1 {
		return nil, "", &LoadError{Stage: "topology",
			Err: fmt.Errorf("%d weight / %d bias layers, topology wants %d", len(weights), len(pkg.Biases), len(sizes)-1)}
	}
	net := &Network{activation: pkg.Activation}
	for i := 0; i < len(sizes)-1; i++ {
		name := fmt.Sprintf("layer_%d", i)
		w, ok := weights[name]
		if !ok {
			return nil, "", &LoadError{Stage: "topology", Err: fmt.Errorf("missing weights for %s", name)}
		}
		b, ok := pkg.Biases[name]
		if !ok {
			return nil, "", &LoadError{Stage: "topology", Err: fmt.Errorf("missing biases for %s", name)}
		}
		net.layers = append(net.layers, layer{weights: w, biases: b})
	}
	if err := net.validateShape(sizes); err != nil {
		return nil, "", &LoadError{Stage: "topology", Err: err}
	}
	if err := checkWeightBounds(net, l.cfg.WeightSecurityMax); err != nil {
		return nil, "", &LoadError{Stage: "weights", Err: err}
	}
	return net, pkg.Version, nil
}

func checkWeightBounds(net *Network, bound float64) error {
	for i, l := range net.layers {
		for _, row := range l.weights {
			for _, w := range row {
				if math.IsNaN(w) || math.IsInf(w, 0) || math.Abs(w) > bound {
					return fmt.Errorf("layer %d weight %v outside |w| <= %v", i, w, bound)
				}
			}
		}
		for _, b := range l.biases {
			if math.IsNaN(b) || math.IsInf(b, 0) || math.Abs(b) > bound {
				return fmt.Errorf("layer %d bias %v outside |b| <= %v", i, b, bound)
			}
		}
	}
	return nil
}

// Predict returns class probabilities for the feature vector. When no
// verified model is installed it returns the uniform prior and reports
// fallback.
func (l *Loader) Predict(vec []float64) (probs []float64, fallback bool) {
	l.mu.RLock()
	net := l.net
	l.mu.RUnlock()
	if net == nil {
		return threat.Uniform(), true
	}
	return net.Predict(vec), false
}

// Status reports the loader's current integrity state.
func (l *Loader) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Status{
		Loaded:         l.net != nil,
		SignatureValid: l.sigValid,
		Verified:       l.net != nil && l.sigValid,
		Version:        l.version,
	}
}
