package registry

import (
	"fmt"
	"image/color"

	"github.com/rs/zerolog/log"
)

// AddOverlay attaches a named overlay drawn in c to the camera.
func (r *Registry) AddOverlay(cameraName, overlayName string, c color.RGBA) error {
	if err := validName(overlayName); err != nil {
		return err
	}
	c.A = 255

	err := r.withCamera(cameraName, func(cam *camera) error {
		if cam.overlayIndex(overlayName) >= 0 {
			return fmt.Errorf("overlay %q on camera %q: %w", overlayName, cameraName, ErrDuplicate)
		}
		if r.maxOverlays > 0 && len(cam.overlays) >= r.maxOverlays {
			return fmt.Errorf("overlay %q on camera %q: %w (%d overlays)", overlayName, cameraName, ErrAllocationFailed, r.maxOverlays)
		}
		cam.overlays = append(cam.overlays, Overlay{Name: overlayName, Color: c})
		return nil
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("component", "registry").
		Str("camera", cameraName).
		Str("overlay", overlayName).
		Uints8("color", []uint8{c.R, c.G, c.B}).
		Msg("Overlay added")
	return nil
}

// RemoveOverlay detaches the named overlay; the remaining overlays keep
// their order.
func (r *Registry) RemoveOverlay(cameraName, overlayName string) error {
	err := r.withCamera(cameraName, func(cam *camera) error {
		i := cam.overlayIndex(overlayName)
		if i < 0 {
			return fmt.Errorf("overlay %q on camera %q: %w", overlayName, cameraName, ErrNotFound)
		}
		cam.overlays = append(cam.overlays[:i], cam.overlays[i+1:]...)
		return nil
	})
	if err != nil {
		return err
	}

	log.Info().Str("component", "registry").Str("camera", cameraName).Str("overlay", overlayName).Msg("Overlay removed")
	return nil
}

// Overlays returns a copy of the camera's overlays.
func (r *Registry) Overlays(cameraName string) ([]Overlay, error) {
	var overlays []Overlay
	err := r.withCamera(cameraName, func(cam *camera) error {
		overlays = append([]Overlay(nil), cam.overlays...)
		return nil
	})
	return overlays, err
}

func (c *camera) overlayIndex(name string) int {
	for i, o := range c.overlays {
		if o.Name == name {
			return i
		}
	}
	return -1
}
