package extract

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"

	"github.com/Jdombrowski/photools/internal/scan"
)

// Exif holds the camera fields the catalog records. Zero values mean the
// tag was absent.
type Exif struct {
	CameraMake   string
	CameraModel  string
	LensModel    string
	FocalLength  float64
	Aperture     float64
	ShutterSpeed string
	ISO          int
	Flash        bool
	DateTaken    *time.Time
	Latitude     *float64
	Longitude    *float64
	Altitude     *float64
	Orientation  int
	Width        int
	Height       int
}

// ParseExif decodes EXIF from r. A file without EXIF yields a default
// record with orientation 1, not an error.
func ParseExif(r io.Reader) *Exif {
	out := &Exif{Orientation: 1}

	x, err := exif.Decode(r)
	if err != nil {
		return out
	}

	out.CameraMake = tagString(x, exif.Make)
	out.CameraModel = tagString(x, exif.Model)
	out.LensModel = tagString(x, exif.LensModel)

	if v, ok := tagRat(x, exif.FocalLength); ok {
		out.FocalLength = v
	}
	if v, ok := tagRat(x, exif.FNumber); ok {
		out.Aperture = v
	}
	if num, denom, ok := tagRat2(x, exif.ExposureTime); ok {
		if denom == 1 {
			out.ShutterSpeed = fmt.Sprintf("%ds", num)
		} else {
			out.ShutterSpeed = fmt.Sprintf("%d/%d", num, denom)
		}
	}
	if v, ok := tagInt(x, exif.ISOSpeedRatings); ok {
		out.ISO = v
	}
	if v, ok := tagInt(x, exif.Flash); ok {
		// Bit 0 indicates the flash fired.
		out.Flash = v&1 == 1
	}

	if dt, err := x.DateTime(); err == nil {
		out.DateTaken = &dt
	}

	if lat, lon, err := x.LatLong(); err == nil && !math.IsNaN(lat) && !math.IsNaN(lon) {
		out.Latitude = &lat
		out.Longitude = &lon
	}
	if v, ok := tagRat(x, exif.GPSAltitude); ok {
		out.Altitude = &v
	}

	if v, ok := tagInt(x, exif.Orientation); ok && v >= 1 && v <= 8 {
		out.Orientation = v
	}

	// Some RAW files carry pixel dimensions only in EXIF.
	if v, ok := tagInt(x, exif.PixelXDimension); ok {
		out.Width = v
	}
	if v, ok := tagInt(x, exif.PixelYDimension); ok {
		out.Height = v
	}

	return out
}

// fold writes the present fields into the metadata map. Image dimensions
// already decoded from pixel data win over the EXIF claim.
func (x *Exif) fold(md scan.Metadata) {
	md["orientation"] = x.Orientation

	if x.CameraMake != "" {
		md["camera_make"] = x.CameraMake
	}
	if x.CameraModel != "" {
		md["camera_model"] = x.CameraModel
	}
	if x.LensModel != "" {
		md["lens_model"] = x.LensModel
	}
	if x.FocalLength > 0 {
		md["focal_length"] = x.FocalLength
	}
	if x.Aperture > 0 {
		md["aperture"] = x.Aperture
	}
	if x.ShutterSpeed != "" {
		md["shutter_speed"] = x.ShutterSpeed
	}
	if x.ISO > 0 {
		md["iso"] = x.ISO
	}
	if x.Flash {
		md["flash"] = true
	}
	if x.DateTaken != nil {
		md["date_taken"] = x.DateTaken.Format(time.RFC3339)
	}
	if x.Latitude != nil && x.Longitude != nil {
		md["gps_latitude"] = *x.Latitude
		md["gps_longitude"] = *x.Longitude
	}
	if x.Altitude != nil {
		md["gps_altitude"] = *x.Altitude
	}
	if x.Width > 0 && x.Height > 0 {
		if _, ok := md["width"]; !ok {
			md["width"] = x.Width
			md["height"] = x.Height
		}
	}
}

func tagString(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	if tag.Format() == tiff.StringVal {
		s, _ := tag.StringVal()
		return s
	}
	return tag.String()
}

func tagInt(x *exif.Exif, name exif.FieldName) (int, bool) {
	tag, err := x.Get(name)
	if err != nil {
		return 0, false
	}
	v, err := tag.Int(0)
	if err != nil {
		return 0, false
	}
	return v, true
}

func tagRat(x *exif.Exif, name exif.FieldName) (float64, bool) {
	num, denom, ok := tagRat2(x, name)
	if !ok || denom == 0 {
		return 0, false
	}
	return float64(num) / float64(denom), true
}

func tagRat2(x *exif.Exif, name exif.FieldName) (num, denom int64, ok bool) {
	tag, err := x.Get(name)
	if err != nil {
		return 0, 0, false
	}
	num, denom, err = tag.Rat2(0)
	if err != nil {
		return 0, 0, false
	}
	return num, denom, true
}
