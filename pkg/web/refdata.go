package web

import (
	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/refdata"
	"github.com/gofiber/fiber/v3"
)

func (h *APIHandlers) referenceData(c fiber.Ctx) (models.ReferenceData, error) {
	if h.refdata == nil {
		return models.ReferenceData{}, refdata.ErrNoSource
	}

	return h.refdata.Get(c.Context())
}

func (h *APIHandlers) GetFields(c fiber.Ctx) error {
	data, err := h.referenceData(c)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(data.Fields)
}

func (h *APIHandlers) GetPipelines(c fiber.Ctx) error {
	data, err := h.referenceData(c)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(data.Pipelines)
}

func (h *APIHandlers) GetSchedulers(c fiber.Ctx) error {
	data, err := h.referenceData(c)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(data.Schedulers)
}

func (h *APIHandlers) GetCampaigns(c fiber.Ctx) error {
	data, err := h.referenceData(c)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(data.Campaigns)
}

// GetBuckets lists dialer buckets, optionally only those of ?campaign_id=.
func (h *APIHandlers) GetBuckets(c fiber.Ctx) error {
	data, err := h.referenceData(c)
	if err != nil {
		return handleServiceError(c, err)
	}

	campaignID := c.Query("campaign_id")
	if campaignID == "" {
		return c.JSON(data.Buckets)
	}

	buckets := make([]models.Bucket, 0)

	for _, bucket := range data.Buckets {
		if bucket.CampaignID == campaignID {
			buckets = append(buckets, bucket)
		}
	}

	return c.JSON(buckets)
}

// SyncReferenceData reloads the catalogue from its source.
func (h *APIHandlers) SyncReferenceData(c fiber.Ctx) error {
	if h.refdata == nil {
		return handleServiceError(c, refdata.ErrNoSource)
	}

	data, err := h.refdata.Refresh(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(SyncResponse{
		RefreshedAt: h.refdata.LoadedAt(),
		Fields:      len(data.Fields),
		Pipelines:   len(data.Pipelines),
		Schedulers:  len(data.Schedulers),
		Campaigns:   len(data.Campaigns),
		Buckets:     len(data.Buckets),
	})
}
