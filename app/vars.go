package app

import (
	"encoding/gob"
	"log"
	"os"

	"gramtag/nlp/tagger"
	"gramtag/util"

	"github.com/gonuts/commander"
)

func init() {
	gob.Register(&Serialization{})
}

var (
	allOut bool = true

	// processing options
	Epochs        int
	Seed          int64
	LearningRate  float64
	OptimizerName string
	ClipNorm      float64

	// encoder options
	encoderVariant string
	embedDim       int
	hiddenDim      int
	numLayers      int
	numHeads       int
	rnnHidden      int
	headHidden     int
	maxPieces      int
	fineTune       bool
	saveEncoder    bool
	vocabFile      string
	embeddingsFile string
	vocabSize      int

	// file names
	tTrain      string
	tDev        string
	input       string
	inputGold   string
	output      string
	modelFile   string
	confFile    string
	lexiconFile string
	analyzerURL string
	constrained bool
)

// Serialization is the on-disk checkpoint: the model itself plus run
// provenance (a fresh run id and the md5 of the training corpus).
type Serialization struct {
	Model        *tagger.Model
	RunID        string
	TrainFileMD5 string
}

func WriteModel(file string, data *Serialization) {
	fObj, err := os.Create(file)
	if err != nil {
		log.Fatalln("Failed creating model file", file, err)
		return
	}
	defer fObj.Close()
	writer := gob.NewEncoder(fObj)
	if err := writer.Encode(data); err != nil {
		log.Fatalln("Failed writing model to", file, err)
	}
}

func ReadModel(file string) *Serialization {
	data := &Serialization{}
	fObj, err := os.Open(file)
	if err != nil {
		log.Fatalln("Failed reading model from", file, err)
		return nil
	}
	defer fObj.Close()
	reader := gob.NewDecoder(fObj)
	if err := reader.Decode(data); err != nil {
		log.Fatalln("Failed decoding model from", file, err)
	}
	return data
}

func VerifyExists(filename string) bool {
	if util.Exists(filename) {
		return true
	}
	log.Println("Error accessing file", filename)
	return false
}

func VerifyFlags(cmd *commander.Command, required []string) {
	for _, flag := range required {
		f := cmd.Flag.Lookup(flag)
		if f.Value.String() == "" {
			log.Printf("Required flag %s not set", f.Name)
			cmd.Usage()
			os.Exit(1)
		}
	}
}
