package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/supplymap_backend/config"
	"github.com/mmdatafocus/supplymap_backend/middlewares"
	"github.com/mmdatafocus/supplymap_backend/models"
	"github.com/mmdatafocus/supplymap_backend/models/reports"
	"github.com/mmdatafocus/supplymap_backend/utils"
	"github.com/mmdatafocus/supplymap_backend/workflow"
	"github.com/sirupsen/logrus"
)

const maxImportSize = 20 << 20

type supplyHandler struct {
	logger   *logrus.Logger
	settings config.SupplySettings
}

// respondError maps ledger errors to HTTP statuses. Anything unexpected is a 500
// and is logged; rule violations are the caller's problem and are not.
func (h *supplyHandler) respondError(c *gin.Context, funcName string, err error) {
	var verr *utils.ValidationError
	var rerr *utils.ReferenceError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Message, "rule": verr.Rule, "field": verr.Field})
	case errors.As(err, &rerr):
		c.JSON(http.StatusConflict, gin.H{"error": rerr.Error(), "referenced_by": rerr.ReferencedBy})
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		config.LogError(h.logger, "supplyHandlers.go", funcName, c.Request.Method+" "+c.FullPath(), nil, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func idParam(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid %s", name)})
		return 0, false
	}
	return id, true
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return false
	}
	return true
}

func supplyMapFilter(c *gin.Context) models.SupplyMapFilter {
	filter := models.SupplyMapFilter{
		Stage:    models.Stage(strings.ToUpper(c.Query("stage"))),
		Tier:     models.Tier(strings.ToUpper(c.Query("tier"))),
		OnlyLate: c.Query("late") == "true",
	}
	if category := strings.TrimSpace(c.Query("category")); category != "" {
		filter.Category = models.ParseCategory(category)
	}
	return filter
}

// sites and locations

func (h *supplyHandler) createSite(c *gin.Context) {
	var input models.NewSite
	if !bindJSON(c, &input) {
		return
	}
	site, err := models.CreateSite(c.Request.Context(), &input)
	if err != nil {
		h.respondError(c, "createSite", err)
		return
	}
	c.JSON(http.StatusCreated, site)
}

func (h *supplyHandler) deleteSite(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := models.DeleteSite(c.Request.Context(), id); err != nil {
		h.respondError(c, "deleteSite", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *supplyHandler) createLocation(c *gin.Context) {
	var input models.NewLocation
	if !bindJSON(c, &input) {
		return
	}
	location, err := models.CreateLocation(c.Request.Context(), &input)
	if err != nil {
		h.respondError(c, "createLocation", err)
		return
	}
	c.JSON(http.StatusCreated, location)
}

func (h *supplyHandler) deleteLocation(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := models.DeleteLocation(c.Request.Context(), id); err != nil {
		h.respondError(c, "deleteLocation", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *supplyHandler) siteHistory(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	planningRowId, _ := strconv.Atoi(c.Query("planning_row_id"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	history, err := models.ListHistory(config.GetDB().WithContext(c.Request.Context()), id, planningRowId, limit)
	if err != nil {
		h.respondError(c, "siteHistory", err)
		return
	}
	c.JSON(http.StatusOK, history)
}

// catalog

func (h *supplyHandler) upsertMaterial(c *gin.Context) {
	var input models.NewMaterial
	if !bindJSON(c, &input) {
		return
	}
	material, err := models.UpsertMaterial(c.Request.Context(), &input, h.settings.DefaultUnit)
	if err != nil {
		h.respondError(c, "upsertMaterial", err)
		return
	}
	c.JSON(http.StatusOK, material)
}

func (h *supplyHandler) categories(c *gin.Context) {
	c.JSON(http.StatusOK, models.Categories())
}

func (h *supplyHandler) deleteMaterial(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := models.DeleteMaterial(c.Request.Context(), id); err != nil {
		h.respondError(c, "deleteMaterial", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// planning ledger

type planningRowResponse struct {
	Row       *models.PlanningRow `json:"row"`
	Material  *models.Material    `json:"material"`
	Location  *models.Location    `json:"location"`
	Allocated string              `json:"allocated"`
}

func (h *supplyHandler) planningRow(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	row, err := middlewares.GetPlanningRow(ctx, id)
	if err != nil {
		h.respondError(c, "planningRow", err)
		return
	}
	material, err := middlewares.GetMaterial(ctx, row.MaterialId)
	if err != nil {
		h.respondError(c, "planningRow", err)
		return
	}
	location, err := middlewares.GetLocation(ctx, row.LocationId)
	if err != nil && !errors.Is(err, utils.ErrorRecordNotFound) {
		h.respondError(c, "planningRow", err)
		return
	}
	allocated, err := middlewares.GetAllocatedForPlanningRow(ctx, id)
	if err != nil {
		h.respondError(c, "planningRow", err)
		return
	}
	c.JSON(http.StatusOK, planningRowResponse{
		Row:       row,
		Material:  material,
		Location:  location,
		Allocated: allocated.StringFixed(utils.QuantityScale),
	})
}

func (h *supplyHandler) createPlanningRow(c *gin.Context) {
	var input models.NewPlanningRow
	if !bindJSON(c, &input) {
		return
	}
	row, err := models.CreatePlanningRow(c.Request.Context(), &input)
	if err != nil {
		h.respondError(c, "createPlanningRow", err)
		return
	}
	c.JSON(http.StatusCreated, row)
}

func (h *supplyHandler) updatePlanningRow(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var input models.PlanningRowUpdate
	if !bindJSON(c, &input) {
		return
	}
	row, err := models.UpdatePlanningRow(c.Request.Context(), id, &input)
	if err != nil {
		h.respondError(c, "updatePlanningRow", err)
		return
	}
	c.JSON(http.StatusOK, row)
}

func (h *supplyHandler) deletePlanningRow(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := models.DeletePlanningRow(c.Request.Context(), id); err != nil {
		h.respondError(c, "deletePlanningRow", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *supplyHandler) attachRequisition(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var input struct {
		RequisitionNumber string `json:"requisition_number"`
	}
	if !bindJSON(c, &input) {
		return
	}
	row, err := models.AttachRequisition(c.Request.Context(), id, input.RequisitionNumber)
	if err != nil {
		h.respondError(c, "attachRequisition", err)
		return
	}
	c.JSON(http.StatusOK, row)
}

func (h *supplyHandler) movePlanningRow(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var input struct {
		SiteId     int  `json:"site_id"`
		LocationId *int `json:"location_id"`
	}
	if !bindJSON(c, &input) {
		return
	}
	result, err := models.MovePlanningRowToSite(c.Request.Context(), id, input.SiteId, input.LocationId)
	if err != nil {
		h.respondError(c, "movePlanningRow", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *supplyHandler) planningRowReceipt(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	receipt, err := middlewares.GetPlanningReceipt(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "planningRowReceipt", err)
		return
	}
	if receipt == nil {
		c.JSON(http.StatusOK, gin.H{"receipt": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"receipt": receipt, "state": receipt.State(), "over_delivered": receipt.OverDelivered()})
}

func (h *supplyHandler) planningRowStatus(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	entry, err := middlewares.GetPlanningStatus(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "planningRowStatus", err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// planningRowStatuses answers ?ids=1,2,3 with one batched derivation; unknown
// ids are omitted.
func (h *supplyHandler) planningRowStatuses(c *gin.Context) {
	ids, err := utils.ParseIdList(c.Query("ids"))
	if err != nil {
		h.respondError(c, "planningRowStatuses", err)
		return
	}
	entries, errs := middlewares.GetPlanningStatuses(c.Request.Context(), ids)
	result := make([]*models.SupplyMapEntry, 0, len(entries))
	for i, entry := range entries {
		if i < len(errs) && errs[i] != nil {
			if errors.Is(errs[i], utils.ErrorRecordNotFound) {
				continue
			}
			h.respondError(c, "planningRowStatuses", errs[i])
			return
		}
		result = append(result, entry)
	}
	c.JSON(http.StatusOK, result)
}

// receipt ledger

func (h *supplyHandler) upsertReceipt(c *gin.Context) {
	var input models.NewReceipt
	if !bindJSON(c, &input) {
		return
	}
	receipt, err := models.UpsertReceipt(c.Request.Context(), &input)
	if err != nil {
		h.respondError(c, "upsertReceipt", err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

func (h *supplyHandler) deleteReceipt(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := models.DeleteReceipt(c.Request.Context(), id); err != nil {
		h.respondError(c, "deleteReceipt", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// supply map

func (h *supplyHandler) buildSupplyMap(c *gin.Context) (*models.SupplyMap, bool) {
	id, ok := idParam(c, "id")
	if !ok {
		return nil, false
	}
	ctx := c.Request.Context()
	if _, err := middlewares.GetSite(ctx, id); err != nil {
		h.respondError(c, "supplyMap", err)
		return nil, false
	}
	m, err := reports.SupplyMap(ctx, id, utils.TodayFromContext(ctx), h.settings.Tolerance, supplyMapFilter(c))
	if err != nil {
		h.respondError(c, "supplyMap", err)
		return nil, false
	}
	return m, true
}

func (h *supplyHandler) supplyMap(c *gin.Context) {
	m, ok := h.buildSupplyMap(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *supplyHandler) supplyMapWorkbook(c *gin.Context) {
	m, ok := h.buildSupplyMap(c)
	if !ok {
		return
	}
	data, err := reports.SupplyMapWorkbookBytes(m)
	if err != nil {
		h.respondError(c, "supplyMapWorkbook", err)
		return
	}
	filename := fmt.Sprintf("supply-map-%d-%s.xlsx", m.SiteId, m.Today.Format("2006-01-02"))
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, utils.XlsxContentType, data)
}

// allocations

func (h *supplyHandler) allocate(c *gin.Context) {
	var input workflow.NewAllocation
	if !bindJSON(c, &input) {
		return
	}
	result, err := workflow.Allocate(c.Request.Context(), input, h.settings)
	if err != nil {
		h.respondError(c, "allocate", err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *supplyHandler) allocation(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	row, err := models.GetAllocation(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "allocation", err)
		return
	}
	c.JSON(http.StatusOK, row)
}

func (h *supplyHandler) deallocate(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	row, err := workflow.Deallocate(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "deallocate", err)
		return
	}
	c.JSON(http.StatusOK, row)
}

// verification and imports

func (h *supplyHandler) verify(c *gin.Context) {
	var input workflow.VerificationOptions
	if c.Request.ContentLength > 0 && !bindJSON(c, &input) {
		return
	}
	run, err := workflow.RunVerification(c.Request.Context(), h.logger, h.settings, input)
	if err != nil {
		h.respondError(c, "verify", err)
		return
	}
	errs, warnings := run.Report.Messages()
	c.JSON(http.StatusOK, gin.H{
		"summary":  run.Summary,
		"errors":   errs,
		"warnings": warnings,
		"findings": run.Report.Findings,
	})
}

// importReceipts takes an ERP receipt export as multipart "file". The optional
// "site_code" form value fills rows without a site column.
func (h *supplyHandler) importReceipts(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if fileHeader.Size > maxImportSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		h.respondError(c, "importReceipts", err)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxImportSize))
	if err != nil {
		h.respondError(c, "importReceipts", err)
		return
	}

	bucket := ""
	if c.PostForm("keep_file") == "true" {
		bucket = utils.ReportBucket("")
	}
	result, err := workflow.ImportReceiptWorkbook(c.Request.Context(), h.logger, h.settings, data, c.PostForm("site_code"), bucket)
	if err != nil {
		h.respondError(c, "importReceipts", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// invalidateSupplyMapsOnWrite retires cached supply maps after any successful
// write request.
func invalidateSupplyMapsOnWrite() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if c.Request.Method == http.MethodGet || c.Writer.Status() >= http.StatusBadRequest {
			return
		}
		reports.InvalidateSupplyMaps(c.Request.Context())
	}
}
