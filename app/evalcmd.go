package app

import (
	"log"
	"os"

	"gramtag/eval"
	"gramtag/nlp/format/jsonl"
	"gramtag/nlp/tagger"

	"github.com/gonuts/commander"
	"github.com/gonuts/flag"
)

func PrintStats(total *eval.Total) {
	log.Println()
	log.Println("Property\tTP\tFP\tFN\tPrec\tRec\tF1")
	for _, name := range total.Names {
		result := total.Results[name]
		log.Printf("%s\t%d\t%d\t%d\t%.4f\t%.4f\t%.4f",
			name, result.TP, result.FP, result.FN,
			result.Precision(), result.Recall(), result.F1())
	}
	log.Printf("Mean F1:\t%.4f", total.MeanF1())
}

func EvalModel(cmd *commander.Command, args []string) error {
	REQUIRED_FLAGS := []string{"m", "g"}
	VerifyFlags(cmd, REQUIRED_FLAGS)
	if !VerifyExists(inputGold) {
		os.Exit(1)
	}

	model := loadTagger()

	gold, err := jsonl.ReadFile(inputGold, jsonl.WithLemmaSeparator(lemmaSeparator))
	if err != nil {
		log.Println(err)
		return err
	}
	if allOut {
		log.Println("Read", len(gold), "gold sentence(s) from", inputGold)
	}

	evaluator := &tagger.Evaluator{Tagger: model, Constrained: constrained}
	total, err := evaluator.Evaluate(gold)
	if err != nil {
		log.Println(err)
		return err
	}
	PrintStats(total)
	return nil
}

func EvalCmd() *commander.Command {
	cmd := &commander.Command{
		Run:       EvalModel,
		UsageLine: "eval <file options> [arguments]",
		Short:     "evaluates a trained model against gold labels",
		Long: `
evaluates a trained model against gold labels

	$ ./gramtag eval -g <gold file> -m <model file> [options]

`,
		Flag: *flag.NewFlagSet("eval", flag.ExitOnError),
	}
	cmd.Flag.StringVar(&inputGold, "g", "", "Gold Examples File (JSON lines)")
	cmd.Flag.StringVar(&modelFile, "m", "model.gob", "Model file")
	cmd.Flag.BoolVar(&constrained, "constrain", false, "Constrain predictions to candidate-licensed values")
	cmd.Flag.StringVar(&lemmaSeparator, "lemmasep", jsonl.DefaultLemmaSeparator, "Separator between split sub-lemmas")
	return cmd
}
