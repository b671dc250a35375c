package app

import (
	"fmt"
	"log"
	"math/rand"
	"os"

	"gramtag/alg/nn"
	"gramtag/nlp/format/jsonl"
	"gramtag/nlp/tagger"
	"gramtag/nlp/types"
	"gramtag/util"
	"gramtag/util/conf"

	"github.com/gonuts/commander"
	"github.com/gonuts/flag"
	"github.com/google/uuid"
)

var lemmaSeparator string

func TrainConfigOut(outModelFile string) {
	log.Println("Configuration")
	log.Printf("Encoder Variant:\t%s", encoderVariant)
	log.Printf("Epochs:\t\t%d", Epochs)
	log.Printf("Seed:\t\t\t%d", Seed)
	log.Printf("Optimizer:\t\t%s", OptimizerName)
	log.Printf("Learning Rate:\t%v", LearningRate)
	log.Printf("Head Hidden:\t\t%d", headHidden)
	switch encoderVariant {
	case tagger.VariantTransformer:
		log.Printf("Embed Dim:\t\t%d", embedDim)
		log.Printf("FF Hidden:\t\t%d", hiddenDim)
		log.Printf("Layers:\t\t%d", numLayers)
		log.Printf("Attention Heads:\t%d", numHeads)
		log.Printf("Max Pieces:\t\t%d", maxPieces)
		log.Printf("Fine Tune:\t\t%v", fineTune)
	case tagger.VariantBiRNN:
		log.Printf("Embed Dim:\t\t%d", embedDim)
		log.Printf("RNN Hidden:\t\t%d", rnnHidden)
	}
	log.Printf("Save Encoder:\t%v", saveEncoder)
	log.Println()
	log.Println("Data")
	log.Printf("Train file:\t\t%s", tTrain)
	if len(tDev) > 0 {
		log.Printf("Dev file:\t\t%s", tDev)
	}
	log.Printf("Model file:\t\t%s", outModelFile)
}

func applySetup(setup *conf.Setup) {
	if setup.LemmaSeparator != "" {
		lemmaSeparator = setup.LemmaSeparator
	}
	if setup.Training.Epochs > 0 {
		Epochs = setup.Training.Epochs
	}
	if setup.Training.Seed != 0 {
		Seed = setup.Training.Seed
	}
	if setup.Training.LearningRate > 0 {
		LearningRate = setup.Training.LearningRate
	}
	if setup.Training.Optimizer != "" {
		OptimizerName = setup.Training.Optimizer
	}
	if setup.Encoder.Variant != "" {
		encoderVariant = setup.Encoder.Variant
	}
	if setup.Encoder.EmbedDim > 0 {
		embedDim = setup.Encoder.EmbedDim
	}
	if setup.Encoder.HiddenDim > 0 {
		hiddenDim = setup.Encoder.HiddenDim
	}
	if setup.Encoder.Layers > 0 {
		numLayers = setup.Encoder.Layers
	}
	if setup.Encoder.Heads > 0 {
		numHeads = setup.Encoder.Heads
	}
	if setup.Encoder.RNNHidden > 0 {
		rnnHidden = setup.Encoder.RNNHidden
	}
	if setup.Encoder.MaxPieces > 0 {
		maxPieces = setup.Encoder.MaxPieces
	}
	if setup.Encoder.VocabFile != "" {
		vocabFile = setup.Encoder.VocabFile
	}
	if setup.Encoder.FineTune {
		fineTune = true
	}
}

func buildEncoder(train []types.Sentence, rng *rand.Rand) (tagger.ContextEncoder, error) {
	corpus := make([][]string, len(train))
	for i := range train {
		corpus[i] = train[i].Forms()
	}
	switch encoderVariant {
	case tagger.VariantTransformer:
		var vocab *util.EnumSet
		if len(vocabFile) > 0 {
			loaded, err := tagger.LoadPieceVocab(vocabFile)
			if err != nil {
				return nil, err
			}
			vocab = loaded
			if allOut {
				log.Println("Pieces:\tLoaded", vocab.Len(), "pieces from", vocabFile)
			}
		} else {
			vocab = tagger.BuildPieceVocab(corpus, vocabSize)
			if allOut {
				log.Println("Pieces:\tBuilt piece vocabulary of", vocab.Len(), "from training corpus")
			}
		}
		wordPiece, err := tagger.NewWordPiece(vocab)
		if err != nil {
			return nil, err
		}
		transformer, err := tagger.NewTransformerEncoder(tagger.TransformerConfig{
			VocabSize: vocab.Len(),
			MaxPieces: maxPieces,
			EmbedDim:  embedDim,
			HiddenDim: hiddenDim,
			Layers:    numLayers,
			Heads:     numHeads,
		}, rng)
		if err != nil {
			return nil, err
		}
		return tagger.NewAggregatedEncoder(wordPiece, transformer, fineTune), nil
	case tagger.VariantBiRNN:
		var embeddings *tagger.EmbeddingTable
		if len(embeddingsFile) > 0 {
			loaded, err := tagger.LoadEmbeddings(embeddingsFile)
			if err != nil {
				return nil, err
			}
			embeddings = loaded
			if allOut {
				log.Println("Embeddings:\tLoaded", len(embeddings.Forms()), "token vectors from", embeddingsFile)
			}
		} else {
			seen := make(map[string]bool)
			var forms []string
			for _, sentence := range corpus {
				for _, form := range sentence {
					if !seen[form] {
						seen[form] = true
						forms = append(forms, form)
					}
				}
			}
			embeddings = tagger.NewEmbeddingTable(forms, embedDim, rng)
			if allOut {
				log.Println("Embeddings:\tInitialized", len(forms), "token vectors from training corpus")
			}
		}
		return tagger.NewBiRNNEncoder(embeddings, rnnHidden, rng), nil
	default:
		return nil, fmt.Errorf("unknown encoder variant %q", encoderVariant)
	}
}

func buildOptimizer() nn.Optimizer {
	switch OptimizerName {
	case "sgd":
		return nn.NewSGD(0.0)
	case "adam":
		return nn.NewAdam(0.0)
	default:
		log.Fatalln("Unknown optimizer", OptimizerName)
		return nil
	}
}

func TrainModel(cmd *commander.Command, args []string) error {
	REQUIRED_FLAGS := []string{"td", "m"}
	VerifyFlags(cmd, REQUIRED_FLAGS)

	var setup *conf.Setup
	if len(confFile) > 0 {
		loaded, err := conf.LoadFile(confFile)
		if err != nil {
			log.Fatalln("Failed reading configuration file:", err)
		}
		setup = loaded
		applySetup(setup)
	}

	TrainConfigOut(modelFile)
	if !VerifyExists(tTrain) {
		os.Exit(1)
	}

	var overrides map[string][]string
	if setup != nil {
		overrides = setup.Properties
	}
	registry, err := types.NewRegistry(overrides)
	if err != nil {
		log.Fatalln(err)
	}

	if allOut {
		log.Println()
		log.Println("Train:\tReading training examples from", tTrain)
	}
	train, err := jsonl.ReadFile(tTrain, jsonl.WithLemmaSeparator(lemmaSeparator))
	if err != nil {
		log.Println(err)
		return err
	}
	if allOut {
		log.Println("Train:\tRead", len(train), "examples")
	}

	var dev []types.Sentence
	if len(tDev) > 0 {
		if allOut {
			log.Println("Dev:\tReading dev examples from", tDev)
		}
		dev, err = jsonl.ReadFile(tDev, jsonl.WithLemmaSeparator(lemmaSeparator))
		if err != nil {
			log.Println(err)
			return err
		}
		if allOut {
			log.Println("Dev:\tRead", len(dev), "examples")
		}
	}

	rng := rand.New(rand.NewSource(Seed))
	encoder, err := buildEncoder(train, rng)
	if err != nil {
		log.Fatalln("Failed building encoder:", err)
	}
	model := tagger.NewTagger(registry, encoder, headHidden, rng)

	runID := uuid.New().String()
	trainMD5, err := util.MD5File(tTrain)
	if err != nil {
		log.Println("Warning: could not hash training file:", err)
	}
	if allOut {
		log.Println()
		log.Println("Training", Epochs, "epoch(s); run id", runID)
	}

	bestScore := -1.0
	evaluator := &tagger.Evaluator{Tagger: model, Constrained: constrained}
	trainer := &tagger.Trainer{
		Tagger:       model,
		Optimizer:    buildOptimizer(),
		LearningRate: LearningRate,
		Epochs:       Epochs,
		Seed:         Seed,
		ClipNorm:     ClipNorm,
		Log:          allOut,
	}
	trainer.AfterEpoch = func(epoch int, meanLoss float64) {
		if dev == nil {
			return
		}
		total, err := evaluator.Evaluate(dev)
		if err != nil {
			log.Println("Dev evaluation failed:", err)
			return
		}
		score := total.MeanF1()
		log.Printf("Epoch %d: dev mean F1 %.4f", epoch, score)
		if score > bestScore {
			bestScore = score
			WriteModel(modelFile, &Serialization{
				Model:        tagger.Freeze(model, saveEncoder),
				RunID:        runID,
				TrainFileMD5: trainMD5,
			})
			log.Println("Wrote model to", modelFile)
		}
	}

	trainer.Train(train)

	if dev == nil {
		WriteModel(modelFile, &Serialization{
			Model:        tagger.Freeze(model, saveEncoder),
			RunID:        runID,
			TrainFileMD5: trainMD5,
		})
		if allOut {
			log.Println("Wrote model to", modelFile)
		}
	} else if allOut {
		log.Printf("Best dev mean F1 %.4f", bestScore)
	}

	if dev != nil {
		total, err := evaluator.Evaluate(dev)
		if err != nil {
			log.Println("Dev evaluation failed:", err)
			return err
		}
		PrintStats(total)
	}
	return nil
}

func TrainCmd() *commander.Command {
	cmd := &commander.Command{
		Run:       TrainModel,
		UsageLine: "train <file options> [arguments]",
		Short:     "trains a grammatical property tagger",
		Long: `
trains a grammatical property tagger

	$ ./gramtag train -td <train file> [-dd <dev file>] -m <model file> [options]

`,
		Flag: *flag.NewFlagSet("train", flag.ExitOnError),
	}
	cmd.Flag.StringVar(&tTrain, "td", "", "Training Examples File (JSON lines)")
	cmd.Flag.StringVar(&tDev, "dd", "", "Dev Examples File (JSON lines)")
	cmd.Flag.StringVar(&modelFile, "m", "model.gob", "Model file")
	cmd.Flag.StringVar(&confFile, "conf", "", "YAML run configuration file")
	cmd.Flag.IntVar(&Epochs, "it", 10, "Number of training epochs")
	cmd.Flag.Int64Var(&Seed, "seed", 1, "Shuffle/init seed")
	cmd.Flag.Float64Var(&LearningRate, "lr", 0.01, "Learning rate")
	cmd.Flag.StringVar(&OptimizerName, "opt", "sgd", "Optimizer [sgd, adam]")
	cmd.Flag.Float64Var(&ClipNorm, "clip", 5.0, "Gradient clipping norm; 0 disables")
	cmd.Flag.StringVar(&encoderVariant, "enc", tagger.VariantTransformer, "Encoder variant [transformer, birnn]")
	cmd.Flag.IntVar(&embedDim, "dim", 128, "Embedding dimension")
	cmd.Flag.IntVar(&hiddenDim, "ff", 512, "Transformer feed-forward hidden dimension")
	cmd.Flag.IntVar(&numLayers, "layers", 2, "Transformer layers")
	cmd.Flag.IntVar(&numHeads, "heads", 4, "Attention heads")
	cmd.Flag.IntVar(&rnnHidden, "rnn", 128, "BiRNN hidden dimension per direction")
	cmd.Flag.IntVar(&headHidden, "hh", 128, "Property head hidden dimension")
	cmd.Flag.IntVar(&maxPieces, "maxpieces", 512, "Maximum word pieces per sentence")
	cmd.Flag.IntVar(&vocabSize, "vocab", 16000, "Piece vocabulary size when built from the corpus")
	cmd.Flag.StringVar(&vocabFile, "vf", "", "Piece vocabulary file (one piece per line)")
	cmd.Flag.StringVar(&embeddingsFile, "ef", "", "External token embeddings file (text format)")
	cmd.Flag.BoolVar(&fineTune, "finetune", false, "Fine-tune the transformer encoder")
	cmd.Flag.BoolVar(&saveEncoder, "saveencoder", true, "Bundle encoder parameters in the checkpoint")
	cmd.Flag.BoolVar(&constrained, "constrain", false, "Constrain dev predictions to analyzer candidates")
	cmd.Flag.StringVar(&lemmaSeparator, "lemmasep", jsonl.DefaultLemmaSeparator, "Separator between split sub-lemmas")
	return cmd
}
