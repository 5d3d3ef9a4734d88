package httpapi

import (
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/era5-downloader/internal/common"
	"github.com/i474232898/era5-downloader/internal/era5"
	"github.com/i474232898/era5-downloader/internal/store"
)

var validate = validator.New()

// RunHistory is the read side of the run store.
type RunHistory interface {
	GetLatest() (era5.RunReport, error)
	GetRange(from, to time.Time) ([]era5.RunReport, error)
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, runs RunHistory, dataDir string) {
	v1 := app.Group("/api/v1")

	v1.Get("/runs/latest", func(c *fiber.Ctx) error {
		run, err := runs.GetLatest()
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no download run recorded yet")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch latest run")
		}
		return c.JSON(run)
	})

	v1.Get("/runs", func(c *fiber.Ctx) error {
		var req historyQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		result, err := runs.GetRange(req.From, req.To)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no download runs in requested range")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch run history")
		}

		return c.JSON(fiber.Map{
			"from": req.From,
			"to":   req.To,
			"runs": result,
		})
	})

	v1.Get("/dates", func(c *fiber.Ctx) error {
		q := datesQuery{From: c.Query("from"), To: c.Query("to")}
		if err := validate.Struct(q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		set, err := era5.DownloadedDates(dataDir)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to list data directory")
		}

		dates := make([]string, 0, len(set))
		for _, d := range era5.SortedDates(set) {
			key := common.FormatDate(d)
			if (q.From != "" && key < q.From) || (q.To != "" && key > q.To) {
				continue
			}
			dates = append(dates, key)
		}

		return c.JSON(fiber.Map{
			"count": len(dates),
			"dates": dates,
		})
	})
}

// datesQuery optionally narrows the listed days; bounds are inclusive.
type datesQuery struct {
	From string `validate:"omitempty,datetime=2006-01-02"`
	To   string `validate:"omitempty,datetime=2006-01-02"`
}

// historyQuery holds query parameters for the run history endpoint.
type historyQuery struct {
	From time.Time `validate:"required"`
	To   time.Time `validate:"required,gtefield=From"`
}

func (h *historyQuery) bind(c *fiber.Ctx) error {
	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}

	h.From = from
	h.To = to
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
