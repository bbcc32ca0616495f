package main

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/folletto95/3d-Site/internal/color"
	"github.com/folletto95/3d-Site/internal/config"
	"github.com/folletto95/3d-Site/internal/profiles"
	"github.com/folletto95/3d-Site/internal/slicer"
	"github.com/folletto95/3d-Site/internal/spoolman"
	"github.com/folletto95/3d-Site/internal/uploads"
)

type server struct {
	cfg        config.Config
	spools     *spoolman.Client
	normalizer *spoolman.Normalizer
	colorCache *color.Store
	resolver   *profiles.Resolver
	invoker    *slicer.Invoker
	uploads    *uploads.Store
}

func main() {
	cfg := config.Load()

	uploadStore, err := uploads.NewStore(cfg.UploadDir)
	if err != nil {
		log.Fatalf("failed to prepare upload directory: %v", err)
	}

	colorCache := color.NewStore(cfg.ColorCachePath)
	classifier := color.NewClassifier(colorCache)
	client := spoolman.NewClient(cfg.SpoolmanURL)

	srv := &server{
		cfg:        cfg,
		spools:     client,
		normalizer: spoolman.NewNormalizer(client, classifier, cfg.Currency),
		colorCache: colorCache,
		resolver:   profiles.NewResolver(cfg.ProfilesDir, cfg.BundledDir),
		invoker:    slicer.New(cfg.SlicerBin, time.Duration(cfg.SlicerTimeoutS)*time.Second),
		uploads:    uploadStore,
	}

	r := chi.NewRouter()
	r.Handle("/files/*", http.StripPrefix("/files/", http.FileServer(http.Dir(uploadStore.Root()))))
	r.Get("/health", srv.handleHealth)
	r.Get("/spools", srv.handleSpools)
	r.Get("/inventory", srv.handleInventory)
	r.Post("/upload_model", srv.handleUploadModel)
	r.Post("/fetch_model", srv.handleFetchModel)
	r.Post("/estimate", srv.handleEstimate)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (spoolman at %s)", addr, cfg.SpoolmanURL)
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
