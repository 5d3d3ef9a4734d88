package era5_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/i474232898/era5-downloader/internal/era5"
	"github.com/i474232898/era5-downloader/mocks"
)

type DownloaderTestSuite struct {
	suite.Suite
	ctrl          *gomock.Controller
	mockRetriever *mocks.MockRetriever
	mockProcessor *mocks.MockHook
	mockArchiver  *mocks.MockHook
	logs          *observer.ObservedLogs
	logger        *zap.Logger
	dataDir       string
}

func TestDownloaderSuite(t *testing.T) {
	suite.Run(t, new(DownloaderTestSuite))
}

func (suite *DownloaderTestSuite) SetupTest() {
	suite.ctrl = gomock.NewController(suite.T())
	suite.mockRetriever = mocks.NewMockRetriever(suite.ctrl)
	suite.mockProcessor = mocks.NewMockHook(suite.ctrl)
	suite.mockArchiver = mocks.NewMockHook(suite.ctrl)

	core, logs := observer.New(zapcore.DebugLevel)
	suite.logger = zap.New(core)
	suite.logs = logs
	suite.dataDir = filepath.Join(suite.T().TempDir(), "era5")
}

func (suite *DownloaderTestSuite) TearDownTest() {
	suite.ctrl.Finish()
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr(t time.Time) *time.Time { return &t }

func (suite *DownloaderTestSuite) newDownloader(opts ...era5.Option) *era5.Downloader {
	opts = append([]era5.Option{
		era5.WithProcessor(suite.mockProcessor),
		era5.WithArchiver(suite.mockArchiver),
	}, opts...)
	d, err := era5.New(suite.dataDir, suite.mockRetriever, suite.logger, opts...)
	suite.Require().NoError(err)
	return d
}

// writeFile is a Retrieve stand-in that writes content to dest.
func writeFile(content string) func(context.Context, string, era5.Request, string) error {
	return func(_ context.Context, _ string, _ era5.Request, dest string) error {
		return os.WriteFile(dest, []byte(content), 0o644)
	}
}

func (suite *DownloaderTestSuite) entries() []string {
	entries, err := os.ReadDir(suite.dataDir)
	suite.Require().NoError(err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func (suite *DownloaderTestSuite) TestNewCreatesDataDir() {
	suite.newDownloader()
	info, err := os.Stat(suite.dataDir)
	suite.Require().NoError(err)
	suite.True(info.IsDir())
}

func (suite *DownloaderTestSuite) TestNewRequiresRetrieverOutsideDebug() {
	_, err := era5.New(suite.dataDir, nil, suite.logger)
	suite.Error(err)

	_, err = era5.New(suite.dataDir, nil, suite.logger, era5.WithDebug(true))
	suite.NoError(err)
}

func (suite *DownloaderTestSuite) TestRunDebugVisitsEveryDayWithoutNetwork() {
	d := suite.newDownloader(era5.WithDebug(true))

	var processed, archived []time.Time
	suite.mockProcessor.EXPECT().Handle(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, day time.Time) error { processed = append(processed, day); return nil },
	).Times(5)
	suite.mockArchiver.EXPECT().Handle(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, day time.Time) error { archived = append(archived, day); return nil },
	).Times(5)

	report, err := d.Run(context.Background(), era5.RangeOptions{Start: ptr(date(2024, 12, 1)), End: ptr(date(2024, 12, 5))})
	suite.Require().NoError(err)

	want := []time.Time{date(2024, 12, 1), date(2024, 12, 2), date(2024, 12, 3), date(2024, 12, 4), date(2024, 12, 5)}
	suite.Equal(want, processed)
	suite.Equal(want, archived)
	suite.Empty(suite.entries())
	suite.Len(report.Attempted, 5)
	suite.Empty(report.Downloaded)
	suite.Empty(report.Failed())
}

func (suite *DownloaderTestSuite) TestRunOrderAndDayBoundaries() {
	d := suite.newDownloader()

	var calls []string
	suite.mockRetriever.EXPECT().Retrieve(gomock.Any(), era5.DefaultDataset, gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, dataset string, req era5.Request, dest string) error {
			calls = append(calls, "download "+req.Year+"-"+req.Month+"-"+req.Day)
			return os.WriteFile(dest, []byte("data"), 0o644)
		},
	).Times(3)
	suite.mockProcessor.EXPECT().Handle(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, day time.Time) error { calls = append(calls, "process "+day.Format("2006-01-02")); return nil },
	).Times(3)
	suite.mockArchiver.EXPECT().Handle(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, day time.Time) error { calls = append(calls, "archive "+day.Format("2006-01-02")); return nil },
	).Times(3)

	_, err := d.Run(context.Background(), era5.RangeOptions{Start: ptr(date(2024, 2, 28)), End: ptr(date(2024, 3, 1))})
	suite.Require().NoError(err)

	suite.Equal([]string{
		"download 2024-02-28", "process 2024-02-28", "archive 2024-02-28",
		"download 2024-02-29", "process 2024-02-29", "archive 2024-02-29",
		"download 2024-03-01", "process 2024-03-01", "archive 2024-03-01",
	}, calls)
	suite.ElementsMatch([]string{"2024-02-28.nc", "2024-02-29.nc", "2024-03-01.nc"}, suite.entries())
}

func (suite *DownloaderTestSuite) TestRunTwiceIsIdempotent() {
	d := suite.newDownloader()
	opts := era5.RangeOptions{Start: ptr(date(2024, 12, 1)), End: ptr(date(2024, 12, 3))}

	suite.mockRetriever.EXPECT().Retrieve(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(writeFile("data")).Times(3)
	suite.mockProcessor.EXPECT().Handle(gomock.Any(), gomock.Any()).Return(nil).Times(3)
	suite.mockArchiver.EXPECT().Handle(gomock.Any(), gomock.Any()).Return(nil).Times(3)

	first, err := d.Run(context.Background(), opts)
	suite.Require().NoError(err)
	suite.Len(first.Downloaded, 3)
	before := suite.entries()

	// No further expectations: any retriever or hook call fails the test.
	second, err := d.Run(context.Background(), opts)
	suite.Require().NoError(err)
	suite.Equal([]string{"2024-12-01", "2024-12-02", "2024-12-03"}, second.Skipped)
	suite.Empty(second.Attempted)
	suite.Equal(before, suite.entries())
}

func (suite *DownloaderTestSuite) TestRunRedownloadOverwrites() {
	suite.Require().NoError(os.MkdirAll(suite.dataDir, 0o755))
	existing := filepath.Join(suite.dataDir, "2024-12-01.nc")
	suite.Require().NoError(os.WriteFile(existing, []byte("old"), 0o644))

	d := suite.newDownloader(era5.WithRedownload(true))
	suite.mockRetriever.EXPECT().Retrieve(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(writeFile("fresh data")).Times(1)
	suite.mockProcessor.EXPECT().Handle(gomock.Any(), date(2024, 12, 1)).Return(nil)
	suite.mockArchiver.EXPECT().Handle(gomock.Any(), date(2024, 12, 1)).Return(nil)

	report, err := d.Run(context.Background(), era5.RangeOptions{Fixed: ptr(date(2024, 12, 1))})
	suite.Require().NoError(err)
	suite.Equal([]string{"2024-12-01"}, report.Downloaded)

	content, err := os.ReadFile(existing)
	suite.Require().NoError(err)
	suite.Equal("fresh data", string(content))
}

func (suite *DownloaderTestSuite) TestRunSkipsOnlyPresentDates() {
	suite.Require().NoError(os.MkdirAll(suite.dataDir, 0o755))
	suite.Require().NoError(os.WriteFile(filepath.Join(suite.dataDir, "2024-12-02.nc"), []byte("x"), 0o644))
	suite.Require().NoError(os.WriteFile(filepath.Join(suite.dataDir, "notes.txt"), []byte("x"), 0o644))

	d := suite.newDownloader(era5.WithDebug(true))
	suite.mockProcessor.EXPECT().Handle(gomock.Any(), gomock.Any()).Return(nil).Times(2)
	suite.mockArchiver.EXPECT().Handle(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	report, err := d.Run(context.Background(), era5.RangeOptions{Start: ptr(date(2024, 12, 1)), End: ptr(date(2024, 12, 3))})
	suite.Require().NoError(err)
	suite.Equal([]string{"2024-12-02"}, report.Skipped)
	suite.Equal([]string{"2024-12-01", "2024-12-03"}, report.Attempted)
}

func (suite *DownloaderTestSuite) TestRunRejectsEndWithFixedBeforeIO() {
	d := suite.newDownloader()

	_, err := d.Run(context.Background(), era5.RangeOptions{End: ptr(date(2024, 12, 5)), Fixed: ptr(date(2024, 12, 1))})
	suite.ErrorIs(err, era5.ErrConfiguration)

	_, err = d.Run(context.Background(), era5.RangeOptions{})
	suite.ErrorIs(err, era5.ErrConfiguration)
}

func (suite *DownloaderTestSuite) TestRunStartAfterEndVisitsNothing() {
	d := suite.newDownloader()
	report, err := d.Run(context.Background(), era5.RangeOptions{Start: ptr(date(2024, 12, 5)), End: ptr(date(2024, 12, 1))})
	suite.Require().NoError(err)
	suite.Empty(report.Attempted)
	suite.Empty(report.Skipped)
}

func (suite *DownloaderTestSuite) TestRunStartOnlyUsesClock() {
	now := time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)
	d := suite.newDownloader(era5.WithDebug(true), era5.WithClock(func() time.Time { return now }))
	suite.mockProcessor.EXPECT().Handle(gomock.Any(), gomock.Any()).Return(nil).Times(3)
	suite.mockArchiver.EXPECT().Handle(gomock.Any(), gomock.Any()).Return(nil).Times(3)

	report, err := d.Run(context.Background(), era5.RangeOptions{Start: ptr(date(2025, 1, 3))})
	suite.Require().NoError(err)
	suite.Equal("2025-01-05", report.End)
	suite.Equal([]string{"2025-01-03", "2025-01-04", "2025-01-05"}, report.Attempted)
}

func (suite *DownloaderTestSuite) TestRunContinuesAfterFailedDay() {
	d := suite.newDownloader()
	gomock.InOrder(
		suite.mockRetriever.EXPECT().Retrieve(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("quota exceeded")),
		suite.mockRetriever.EXPECT().Retrieve(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(writeFile("data")),
	)
	suite.mockProcessor.EXPECT().Handle(gomock.Any(), gomock.Any()).Return(errors.New("not implemented")).Times(2)
	suite.mockArchiver.EXPECT().Handle(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	report, err := d.Run(context.Background(), era5.RangeOptions{Start: ptr(date(2024, 12, 1)), End: ptr(date(2024, 12, 2))})
	suite.Require().NoError(err)
	suite.Equal([]string{"2024-12-02"}, report.Downloaded)
	suite.Equal([]string{"2024-12-01"}, report.Failed())
	suite.Equal(2, suite.logs.FilterMessage("Hook failed").Len())
}

func (suite *DownloaderTestSuite) TestRunStopsBetweenDaysWhenCancelled() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := suite.newDownloader()
	suite.mockRetriever.EXPECT().Retrieve(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(rctx context.Context, _ string, _ era5.Request, dest string) error {
			cancel()
			// the started day is not cancelled
			suite.NoError(rctx.Err())
			return os.WriteFile(dest, []byte("data"), 0o644)
		},
	).Times(1)
	suite.mockProcessor.EXPECT().Handle(gomock.Any(), date(2024, 12, 1)).Return(nil)
	suite.mockArchiver.EXPECT().Handle(gomock.Any(), date(2024, 12, 1)).Return(nil)

	report, err := d.Run(ctx, era5.RangeOptions{Start: ptr(date(2024, 12, 1)), End: ptr(date(2024, 12, 5))})
	suite.ErrorIs(err, context.Canceled)
	suite.True(report.Interrupted)
	suite.Equal([]string{"2024-12-01"}, report.Downloaded)
}

func (suite *DownloaderTestSuite) TestRunReportsProgress() {
	var progress [][2]int
	d := suite.newDownloader(era5.WithDebug(true), era5.WithProgress(func(done, total int) {
		progress = append(progress, [2]int{done, total})
	}))
	suite.mockProcessor.EXPECT().Handle(gomock.Any(), gomock.Any()).Return(nil).Times(2)
	suite.mockArchiver.EXPECT().Handle(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	_, err := d.Run(context.Background(), era5.RangeOptions{Start: ptr(date(2024, 12, 1)), End: ptr(date(2024, 12, 2))})
	suite.Require().NoError(err)
	suite.Equal([][2]int{{1, 2}, {2, 2}}, progress)
}

func (suite *DownloaderTestSuite) TestDownloadDebugDoesNothing() {
	d := suite.newDownloader(era5.WithDebug(true))
	suite.Equal("", d.Download(context.Background(), date(2024, 12, 1), nil))
	suite.Empty(suite.entries())
}

func (suite *DownloaderTestSuite) TestDownloadSuccess() {
	d := suite.newDownloader(era5.WithDataset("reanalysis-era5-single-levels"))

	var tempDir string
	suite.mockRetriever.EXPECT().Retrieve(gomock.Any(), "reanalysis-era5-single-levels", gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, req era5.Request, dest string) error {
			tempDir = filepath.Dir(dest)
			suite.Equal(suite.dataDir, filepath.Dir(tempDir))
			suite.True(strings.HasPrefix(filepath.Base(tempDir), "era5_download_"))
			suite.Equal("2024-07-09.nc", filepath.Base(dest))
			suite.Equal("reanalysis", req.ProductType)
			suite.Equal("netcdf", req.Format)
			suite.Equal("07", req.Month)
			suite.Equal("09", req.Day)
			return os.WriteFile(dest, []byte("netcdf bytes"), 0o644)
		},
	)

	path := d.Download(context.Background(), date(2024, 7, 9), nil)
	suite.Equal(filepath.Join(suite.dataDir, "2024-07-09.nc"), path)
	suite.NoDirExists(tempDir)
	suite.Equal([]string{"2024-07-09.nc"}, suite.entries())
	suite.Equal(1, suite.logs.FilterMessage("Successfully downloaded").Len())
}

func (suite *DownloaderTestSuite) TestDownloadCustomConfig() {
	d := suite.newDownloader()
	cfg := era5.DownloadConfig{
		Variables:      []string{"temperature"},
		PressureLevels: []string{"850"},
		Times:          []string{"12:00"},
	}
	suite.mockRetriever.EXPECT().Retrieve(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, req era5.Request, dest string) error {
			suite.Equal([]string{"temperature"}, req.Variable)
			suite.Equal(era5.GlobalArea, req.Area)
			return os.WriteFile(dest, []byte("x"), 0o644)
		},
	)
	suite.NotEmpty(d.Download(context.Background(), date(2024, 7, 9), &cfg))
}

func (suite *DownloaderTestSuite) TestDownloadInvalidConfig() {
	d := suite.newDownloader()
	cfg := era5.DefaultDownloadConfig()
	cfg.Area = []float64{1, 2, 3}

	path, err := d.DownloadWithError(context.Background(), date(2024, 7, 9), &cfg)
	suite.Equal("", path)
	suite.ErrorIs(err, era5.ErrConfigValidation)
	suite.Empty(suite.entries())
}

func (suite *DownloaderTestSuite) TestDownloadRetrievalError() {
	d := suite.newDownloader()
	var tempDir string
	suite.mockRetriever.EXPECT().Retrieve(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, _ era5.Request, dest string) error {
			tempDir = filepath.Dir(dest)
			// a partial file must not survive
			_ = os.WriteFile(dest, []byte("partial"), 0o644)
			return errors.New("authentication failed")
		},
	)

	path, err := d.DownloadWithError(context.Background(), date(2024, 7, 9), nil)
	suite.Equal("", path)
	suite.ErrorIs(err, era5.ErrRetrieval)
	suite.NoDirExists(tempDir)
	suite.Empty(suite.entries())

	failures := suite.logs.FilterMessage("Download failed").All()
	suite.Require().Len(failures, 1)
	suite.Equal("*errors.errorString", failures[0].ContextMap()["kind"])
}

type rateLimitedError struct{}

func (rateLimitedError) Error() string { return "rate limited" }
func (rateLimitedError) Kind() string  { return "RateLimited" }

func (suite *DownloaderTestSuite) TestDownloadFailureLogsErrorKind() {
	d := suite.newDownloader()
	suite.mockRetriever.EXPECT().Retrieve(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(fmt.Errorf("submit request: %w", rateLimitedError{}))

	path, err := d.DownloadWithError(context.Background(), date(2024, 7, 10), nil)
	suite.Equal("", path)
	suite.ErrorIs(err, era5.ErrRetrieval)

	failures := suite.logs.FilterMessage("Download failed").All()
	suite.Require().Len(failures, 1)
	suite.Equal("RateLimited", failures[0].ContextMap()["kind"])
}

func (suite *DownloaderTestSuite) TestDownloadMissingFile() {
	d := suite.newDownloader()
	suite.mockRetriever.EXPECT().Retrieve(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	path, err := d.DownloadWithError(context.Background(), date(2024, 7, 9), nil)
	suite.Equal("", path)
	suite.ErrorIs(err, era5.ErrPostCondition)
	suite.Empty(suite.entries())
}

func (suite *DownloaderTestSuite) TestDownloadEmptyFile() {
	d := suite.newDownloader()
	suite.mockRetriever.EXPECT().Retrieve(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(writeFile(""))

	path, err := d.DownloadWithError(context.Background(), date(2024, 7, 9), nil)
	suite.Equal("", path)
	suite.ErrorIs(err, era5.ErrPostCondition)
	suite.Empty(suite.entries())
}

func (suite *DownloaderTestSuite) TestDownloadCleanupFailureIsOnlyLogged() {
	d := suite.newDownloader()
	var removed []string
	d.SetRemoveAll(func(dir string) error {
		removed = append(removed, dir)
		_ = os.RemoveAll(dir)
		return errors.New("device busy")
	})
	suite.mockRetriever.EXPECT().Retrieve(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(writeFile("data"))

	path := d.Download(context.Background(), date(2024, 7, 9), nil)
	suite.Equal(filepath.Join(suite.dataDir, "2024-07-09.nc"), path)
	suite.Len(removed, 1)

	warnings := suite.logs.FilterMessage("Failed to clean up temporary directory").All()
	suite.Require().Len(warnings, 1)
	suite.Equal(zapcore.WarnLevel, warnings[0].Level)
}

func (suite *DownloaderTestSuite) TestProcessAndArchiveDefaultToLogging() {
	d, err := era5.New(suite.dataDir, nil, suite.logger, era5.WithDebug(true))
	suite.Require().NoError(err)

	d.Process(context.Background(), date(2024, 12, 1))
	d.Archive(context.Background(), date(2024, 12, 1))

	suite.Equal(1, suite.logs.FilterMessage("Processing data").Len())
	suite.Equal(1, suite.logs.FilterMessage("Archiving data").Len())
}
