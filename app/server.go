package app

import (
	"encoding/json"
	"log"
	"net/http"

	"gramtag/nlp/analyzer"
	"gramtag/nlp/tagger"
	"gramtag/nlp/types"

	"github.com/gonuts/commander"
	"github.com/gonuts/flag"
	"github.com/rs/cors"
)

var serverAddr string

type tagRequest struct {
	Tokens []string `json:"tokens"`
}

type tagResponse struct {
	Tokens      []string                    `json:"tokens"`
	Predictions []types.PropertyPredictions `json:"predictions"`
}

type apiError struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Println("Failed encoding response:", err)
	}
}

func tagHandler(model *tagger.Tagger, candidates analyzer.Analyzer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, apiError{Error: "POST only"})
			return
		}
		var request tagRequest
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
			return
		}
		if len(request.Tokens) == 0 {
			writeJSON(w, http.StatusBadRequest, apiError{Error: "no tokens"})
			return
		}

		var predictions []types.PropertyPredictions
		var err error
		if constrained && candidates != nil {
			analyses, analyzeErr := candidates.Analyze(request.Tokens)
			if analyzeErr != nil {
				log.Println("Analyzer error, answering unconstrained:", analyzeErr)
				predictions, err = model.Predict(request.Tokens)
			} else {
				predictions, err = model.PredictConstrained(request.Tokens, analyses)
			}
		} else {
			predictions, err = model.Predict(request.Tokens)
		}
		if err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, apiError{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, tagResponse{Tokens: request.Tokens, Predictions: predictions})
	}
}

func propertiesHandler(model *tagger.Tagger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, model.Registry.Snapshot())
	}
}

func Serve(cmd *commander.Command, args []string) error {
	REQUIRED_FLAGS := []string{"m"}
	VerifyFlags(cmd, REQUIRED_FLAGS)

	model := loadTagger()
	candidates := buildAnalyzer()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/tag", tagHandler(model, candidates))
	mux.HandleFunc("/api/properties", propertiesHandler(model))

	handler := cors.Default().Handler(mux)
	log.Println("Listening on", serverAddr)
	if err := http.ListenAndServe(serverAddr, handler); err != nil {
		log.Println(err)
		return err
	}
	return nil
}

func ServerCmd() *commander.Command {
	cmd := &commander.Command{
		Run:       Serve,
		UsageLine: "server <file options> [arguments]",
		Short:     "serves a trained model over HTTP",
		Long: `
serves a trained model over HTTP

	$ ./gramtag server -m <model file> [-addr :8080]

POST /api/tag       {"tokens": ["she", "walked"]}
GET  /api/properties

`,
		Flag: *flag.NewFlagSet("server", flag.ExitOnError),
	}
	cmd.Flag.StringVar(&modelFile, "m", "model.gob", "Model file")
	cmd.Flag.StringVar(&serverAddr, "addr", ":8080", "Listen address")
	cmd.Flag.StringVar(&lexiconFile, "lex", "", "Lexicon file for candidate analyses (TSV)")
	cmd.Flag.StringVar(&analyzerURL, "analyzer", "", "Remote analyzer service URL")
	cmd.Flag.BoolVar(&constrained, "constrain", false, "Constrain predictions to candidate-licensed values")
	return cmd
}
