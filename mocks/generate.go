package mocks

//go:generate mockgen -destination=./mock_retriever.go -package=mocks github.com/i474232898/era5-downloader/internal/era5 Retriever
//go:generate mockgen -destination=./mock_hook.go -package=mocks github.com/i474232898/era5-downloader/internal/era5 Hook
