package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Brownie44l1/lesion-api/internal/acquisition"
	"github.com/Brownie44l1/lesion-api/internal/config"
	"github.com/Brownie44l1/lesion-api/internal/logger"
	"github.com/Brownie44l1/lesion-api/internal/model"
	"github.com/Brownie44l1/lesion-api/internal/observer"
	"github.com/Brownie44l1/lesion-api/internal/pipeline"
	"github.com/Brownie44l1/lesion-api/internal/session"
)

func main() {
	os.Exit(run())
}

func run() int {
	root, err := config.ProjectRoot()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	var imagePath, modelPath, metadataPath, libPath string
	var asJSON bool
	var timeout time.Duration

	flag.StringVar(&imagePath, "image", "", "image to classify (jpg/png/gif/webp)")
	flag.StringVar(&modelPath, "model", filepath.Join(root, "models", "model.onnx"), "ONNX model path")
	flag.StringVar(&metadataPath, "metadata", filepath.Join(root, "models", "model_metadata.json"), "model metadata JSON path")
	flag.StringVar(&libPath, "lib", os.Getenv("ONNXRUNTIME_LIB"), "onnxruntime shared library path")
	flag.BoolVar(&asJSON, "json", false, "print the full session state as JSON")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "classification timeout")
	flag.Parse()

	if imagePath == "" {
		fmt.Fprintf(os.Stderr, "usage: %s -image lesion.jpg [-model model.onnx] [-metadata model_metadata.json] [-json]\n", filepath.Base(os.Args[0]))
		return 2
	}

	// Logs go to stderr so stdout carries only the result.
	logger.Logger.SetOutput(os.Stderr)

	loader := model.NewONNXLoader(modelPath, metadataPath, libPath, false)
	defer model.ShutdownEnvironment()
	defer loader.Close()

	events := observer.NewEventPublisher()
	events.Subscribe(observer.NewLoggingObserver(logger.Logger))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	sess := session.New(pipeline.New(loader), events)
	go sess.Run(ctx)

	if _, err := sess.Select(ctx, acquisition.FileSource{Path: imagePath}); err != nil {
		fmt.Fprintf(os.Stderr, "select %s: %v\n", imagePath, err)
		return 1
	}

	st, err := sess.PredictAndWait(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "classify: %v\n", err)
		return 1
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(st); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	} else if st.LastError == "" {
		fmt.Printf("%s (%.1f%%)\n", st.Caption(), st.Confidence*100)
	}

	if st.LastError != "" {
		fmt.Fprintf(os.Stderr, "classification failed (%s): %s\n", st.LastErrorType, st.LastError)
		return 1
	}
	return 0
}
