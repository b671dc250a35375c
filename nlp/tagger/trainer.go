package tagger

import (
	"log"
	"math/rand"
	"time"

	"gramtag/alg/nn"
	"gramtag/nlp/types"
)

// Trainer runs synchronous example-by-example training: one example is
// forwarded and backwarded to completion before its optimizer step; examples
// are reshuffled at the start of each epoch with a seedable shuffler.
type Trainer struct {
	Tagger       *Tagger
	Optimizer    nn.Optimizer
	LearningRate float64
	Epochs       int
	Seed         int64
	ClipNorm     float64
	Log          bool

	// AfterEpoch, when set, runs after each epoch with the epoch index and
	// the mean training loss; callers hook dev evaluation and checkpoint
	// saving here.
	AfterEpoch func(epoch int, meanLoss float64)
}

// Train consumes the loaded examples, which are never mutated. Examples the
// encoder cannot handle are skipped with their index logged; they do not
// count toward the epoch's mean loss.
func (t *Trainer) Train(examples []types.Sentence) {
	if len(examples) == 0 {
		if t.Log {
			log.Println("TRAIN No examples, nothing to do")
		}
		return
	}
	params := t.Tagger.Parameters()
	rng := rand.New(rand.NewSource(t.Seed))
	order := make([]int, len(examples))
	for i := range order {
		order[i] = i
	}

	startTime := time.Now()
	for epoch := 0; epoch < t.Epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})

		epochStart := time.Now()
		var epochLoss float64
		learned := 0
		for n, index := range order {
			example := &examples[index]
			loss, err := t.Tagger.Learn(example)
			if err != nil {
				log.Println("Skipping example", index, ":", err)
				continue
			}
			epochLoss += loss
			learned++

			if t.ClipNorm > 0 {
				nn.ClipGradients(params, t.ClipNorm)
			}
			t.Optimizer.Step(params, t.LearningRate)
			t.Optimizer.ZeroGrad(params)

			if t.Log && (n+1)%500 == 0 {
				log.Println("At training", n+1, "of epoch", epoch)
			}
		}

		meanLoss := 0.0
		if learned > 0 {
			meanLoss = epochLoss / float64(learned)
		}
		if t.Log {
			log.Printf("Epoch %d: mean loss %.4f (%v)", epoch, meanLoss, time.Since(epochStart))
		}
		if t.AfterEpoch != nil {
			t.AfterEpoch(epoch, meanLoss)
		}
	}
	if t.Log {
		log.Println("TRAIN Total Time:", time.Since(startTime))
	}
}
