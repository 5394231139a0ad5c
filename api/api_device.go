package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/emberwallet/go-vault-server/services"
	"github.com/emberwallet/go-vault-server/types"
	"github.com/gin-gonic/gin"
)

type DeviceApi struct {
	deviceService *services.DeviceService
}

func NewDeviceApi(deviceService *services.DeviceService) *DeviceApi {
	return &DeviceApi{
		deviceService: deviceService,
	}
}

// ListDevices godoc
// @Summary List trusted devices of the authenticated account
// @Description List trusted devices of the authenticated account
// @Tags Device
// @Produce json
// @Success 200 {array} types.TrustedDevice
// @Failure 401 {object} api.ApiError "not authorized"
// @Router /api/v1/devices [get]
func (a *DeviceApi) ListDevices(c *gin.Context) {
	accountID := c.GetString("subjectAccount")
	if accountID == "" {
		ApiErrorf(c, http.StatusUnauthorized, "not authorized")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	devices, err := a.deviceService.ListDevices(ctx, accountID)
	if err != nil {
		ApiErrorf(c, http.StatusInternalServerError, "failed to list devices")
		return
	}
	c.JSON(http.StatusOK, devices)
}

// RevokeDevice godoc
// @Summary Revoke trust for one device
// @Description Revoke trust for one device. The next unlock from it goes through device verification again.
// @Tags Device
// @Produce json
// @Param deviceId path string true "device to revoke"
// @Success 200 {object} types.OK
// @Failure 404 {object} api.ApiError "device not found"
// @Router /api/v1/devices/{deviceId} [delete]
func (a *DeviceApi) RevokeDevice(c *gin.Context) {
	accountID := c.GetString("subjectAccount")
	if accountID == "" {
		ApiErrorf(c, http.StatusUnauthorized, "not authorized")
		return
	}
	deviceID := c.Param("deviceId")
	if deviceID == "" {
		ApiErrorf(c, http.StatusBadRequest, "deviceId is required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.deviceService.RevokeDevice(ctx, accountID, deviceID); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			ApiErrorf(c, http.StatusNotFound, "device not found")
			return
		}
		ApiErrorf(c, http.StatusInternalServerError, "failed to revoke device")
		return
	}
	c.JSON(http.StatusOK, types.OK{IsOK: true})
}
