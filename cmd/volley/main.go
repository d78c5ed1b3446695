package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	volley "github.com/23skdu/longbow-volley"
	"github.com/23skdu/longbow-volley/internal/config"
	"github.com/23skdu/longbow-volley/internal/engine"
	"github.com/23skdu/longbow-volley/internal/flightengine"
	"github.com/23skdu/longbow-volley/internal/logger"
	"github.com/23skdu/longbow-volley/internal/sampling"
	"github.com/23skdu/longbow-volley/internal/tokenizer"
)

var (
	model       = flag.String("model", "sim", "Model name or path the engine serves")
	remoteAddr  = flag.String("remote", "", "Address of a Flight engine service; empty runs the in-process sim engine")
	numTokens   = flag.Int("n", 16, "Maximum tokens to generate per prompt")
	temperature = flag.Float64("temperature", 1.0, "Sampling temperature (0 = greedy)")
	seed        = flag.Int64("seed", 0, "Seed for the sampling RNG")
	precision   = flag.String("precision", "auto", "Numeric precision mode (auto, fp16, bf16, fp32)")
	tpSize      = flag.Int("tensor-parallel-size", 1, "Number of devices to shard the model across")
	metricsAddr = flag.String("metrics", ":9090", "Address to serve Prometheus metrics")
	logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	logFormat   = flag.String("log-format", "console", "Log format (console, json)")
	noProgress  = flag.Bool("no-progress", false, "Disable progress reporting")
)

func main() {
	flag.Parse()
	logger.Setup(*logLevel, *logFormat)
	log := logger.Log

	prompts := flag.Args()
	if len(prompts) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: volley [flags] PROMPT [PROMPT...]")
		flag.Usage()
		os.Exit(1)
	}

	prec, err := config.ParsePrecision(*precision)
	if err != nil {
		log.Error("bad precision flag", "error", err.Error())
		os.Exit(1)
	}

	// Metrics endpoint, same shape as the engine CLIs
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		log.Info("metrics serving", "addr", *metricsAddr)
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
			log.Warn("metrics server error", "error", err.Error())
		}
	}()

	var llm *volley.LLM
	if *remoteAddr != "" {
		remote, err := flightengine.NewRemote(*remoteAddr)
		if err != nil {
			log.Error("failed to dial remote engine", "error", err.Error())
			os.Exit(1)
		}
		defer remote.Close()
		llm = volley.NewWithEngine(remote)
		log.Info("using remote flight engine", "addr", *remoteAddr)
	} else {
		cfg := config.Default()
		cfg.Model = *model
		cfg.TensorParallelSize = *tpSize
		cfg.Precision = prec
		cfg.Seed = *seed
		cfg.VocabSize = tokenizer.VocabSize
		cfg.EOSTokenID = 0

		llm, err = volley.New(cfg)
		if err != nil {
			log.Error("failed to build engine", "error", err.Error())
			os.Exit(1)
		}
		log.Info("using in-process sim engine", "model", cfg.Model, "precision", prec.String())
	}

	params := sampling.Default()
	params.Temperature = float32(*temperature)
	params.MaxTokens = *numTokens
	params.IgnoreEOS = true

	log.Info("submitting batch", "prompts", len(prompts), "max_tokens", *numTokens)
	outputs, err := llm.Generate(prompts, &params, nil, !*noProgress)
	if err != nil {
		log.Error("generation failed", "error", err.Error())
		os.Exit(1)
	}

	for _, out := range outputs {
		printOutput(out)
	}
}

func printOutput(out *engine.RequestOutput) {
	fmt.Printf("--- request %s (%s, %d tokens)\n", out.RequestID, out.FinishReason, len(out.TokenIDs))
	if out.Prompt != "" {
		fmt.Printf("prompt: %s\n", out.Prompt)
	}
	fmt.Printf("output: %q\n", out.Text)
}
