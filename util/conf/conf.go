// Package conf loads YAML run configuration: property value inventories and
// training hyperparameters.
package conf

import (
	"io/ioutil"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

type TrainingSetup struct {
	Epochs       int     `yaml:"epochs"`
	Seed         int64   `yaml:"seed"`
	LearningRate float64 `yaml:"learning rate"`
	Optimizer    string  `yaml:"optimizer"`
}

type EncoderSetup struct {
	Variant   string `yaml:"variant"`
	EmbedDim  int    `yaml:"embed dim"`
	HiddenDim int    `yaml:"hidden dim"`
	Layers    int    `yaml:"layers"`
	Heads     int    `yaml:"heads"`
	RNNHidden int    `yaml:"rnn hidden"`
	FineTune  bool   `yaml:"fine tune"`
	VocabFile string `yaml:"vocab file"`
	MaxPieces int    `yaml:"max pieces"`
}

type Setup struct {
	// Properties overrides the built-in grammatical property inventory;
	// keys are property names, values the ordered value lists.
	Properties map[string][]string `yaml:"properties"`
	// LemmaSeparator joins sub-lemmas of a multi-component morphology when
	// recomputing character spans.
	LemmaSeparator string        `yaml:"lemma separator"`
	Training       TrainingSetup `yaml:"training"`
	Encoder        EncoderSetup  `yaml:"encoder"`
}

func Load(data []byte) (*Setup, error) {
	setup := new(Setup)
	if err := yaml.Unmarshal(data, setup); err != nil {
		return nil, errors.Wrap(err, "parsing configuration")
	}
	return setup, nil
}

func LoadFile(filename string) (*Setup, error) {
	data, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "reading configuration file %s", filename)
	}
	return Load(data)
}
