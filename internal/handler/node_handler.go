package handler

import (
	"errors"
	"net/http"
	"strconv"

	"hub-service/internal/middleware"
	"hub-service/internal/model"
	"hub-service/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// NodeRequest defines the structure for node update requests. Nil fields are
// left unchanged.
type NodeRequest struct {
	Name             *string  `json:"name"`
	LocationName     *string  `json:"locationName"`
	Latitude         *float64 `json:"latitude"`
	Longitude        *float64 `json:"longitude"`
	FirmwareVersion  *string  `json:"firmwareVersion"`
	StorageMode      *string  `json:"storageMode"`
	PendingSyncCount *int     `json:"pendingSyncCount"`
}

// NodeHandler serves the node management endpoints. Nodes register themselves
// on first ingestion; this handler only reads and reconfigures them.
type NodeHandler struct {
	db *gorm.DB
}

// NewNodeHandler creates a node handler
func NewNodeHandler(db *gorm.DB) *NodeHandler {
	return &NodeHandler{db: db}
}

// List returns all nodes of the tenant
func (h *NodeHandler) List(c echo.Context) error {
	log := logger.FromEcho(c)

	tenantID, ok := middleware.GetTenantIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "tenant context is required"})
	}

	var nodes []model.Node
	err := h.db.WithContext(c.Request().Context()).
		Joins("JOIN hubs ON hubs.id = nodes.hub_id").
		Where("hubs.tenant_id = ?", tenantID).
		Order("nodes.node_id ASC").
		Find(&nodes).Error
	if err != nil {
		log.Error("Failed to list nodes", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to retrieve nodes"})
	}

	return c.JSON(http.StatusOK, nodes)
}

// Get returns a single node by id
func (h *NodeHandler) Get(c echo.Context) error {
	log := logger.FromEcho(c)

	tenantID, ok := middleware.GetTenantIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "tenant context is required"})
	}

	node, err := h.nodeForTenant(c, tenantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "node not found"})
		}
		if errors.Is(err, errBadNodeID) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid node id"})
		}
		log.Error("Failed to load node", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to retrieve node"})
	}

	return c.JSON(http.StatusOK, node)
}

// Update reconfigures a node
func (h *NodeHandler) Update(c echo.Context) error {
	log := logger.FromEcho(c)

	tenantID, ok := middleware.GetTenantIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "tenant context is required"})
	}

	node, err := h.nodeForTenant(c, tenantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "node not found"})
		}
		if errors.Is(err, errBadNodeID) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid node id"})
		}
		log.Error("Failed to load node", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to retrieve node"})
	}

	var req NodeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	if req.StorageMode != nil {
		mode := model.StorageMode(*req.StorageMode)
		if !mode.Valid() {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid storage mode"})
		}
		node.StorageMode = mode
	}
	if req.Name != nil {
		node.Name = *req.Name
	}
	if req.LocationName != nil {
		node.LocationName = req.LocationName
	}
	if req.Latitude != nil {
		node.Latitude = req.Latitude
	}
	if req.Longitude != nil {
		node.Longitude = req.Longitude
	}
	if req.FirmwareVersion != nil {
		node.FirmwareVersion = req.FirmwareVersion
	}
	if req.PendingSyncCount != nil {
		count := *req.PendingSyncCount
		if count < 0 {
			count = 0
		}
		node.PendingSyncCount = count
	}

	if err := h.db.WithContext(c.Request().Context()).Save(node).Error; err != nil {
		log.Error("Failed to update node", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update node"})
	}

	log.Info("Node updated",
		zap.Uint("node_id", node.ID),
		zap.String("external_id", node.NodeID),
		zap.String("storage_mode", string(node.StorageMode)))
	return c.JSON(http.StatusOK, node)
}

var errBadNodeID = errors.New("invalid node id")

func (h *NodeHandler) nodeForTenant(c echo.Context, tenantID uint) (*model.Node, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return nil, errBadNodeID
	}

	var node model.Node
	err = h.db.WithContext(c.Request().Context()).
		Joins("JOIN hubs ON hubs.id = nodes.hub_id").
		Where("hubs.tenant_id = ? AND nodes.id = ?", tenantID, uint(id)).
		First(&node).Error
	if err != nil {
		return nil, err
	}
	return &node, nil
}
