// Package export packages a segmentation result and its frames as a training
// dataset archive.
package export

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-insights/results"
	"github.com/nvr-ai/go-insights/util"
)

// Format is a dataset layout.
type Format string

const (
	// FormatYOLO writes data.yaml, images/ and normalised labels/.
	FormatYOLO Format = "yolo"
	// FormatCOCO writes images/ and annotations.json.
	FormatCOCO Format = "coco"
)

var (
	// ErrUnsupportedFormat is returned for unknown formats.
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrNoDimensions is returned when the result lacks frame dimensions.
	ErrNoDimensions = errors.New("video metadata has no frame dimensions")
)

// ParseFormat parses a format name case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatYOLO, FormatCOCO:
		return f, nil
	}
	return "", errors.Wrapf(ErrUnsupportedFormat, "%q", s)
}

// Write streams a zip archive of result in format to w. Frames are read from
// frameDir; frames missing on disk are skipped along with their labels.
//
// Arguments:
//   - result: The committed segmentation result.
//   - frameDir: The run's frame directory.
//   - format: The dataset layout.
//   - w: Destination of the zip archive.
//
// Returns:
//   - error: ErrUnsupportedFormat, ErrNoDimensions or an IO error.
func Write(result *results.SegmentationResult, frameDir string, format Format, w io.Writer) error {
	if format != FormatYOLO && format != FormatCOCO {
		return errors.Wrapf(ErrUnsupportedFormat, "%q", format)
	}
	meta := result.VideoMetadata
	if meta.Width <= 0 || meta.Height <= 0 {
		return ErrNoDimensions
	}

	files, err := util.LoadFrameFiles(frameDir)
	if err != nil {
		return errors.Wrap(err, "listing frames")
	}
	onDisk := make(map[int]util.FrameFile, len(files))
	for _, f := range files {
		onDisk[f.Frame] = f
	}

	zw := zip.NewWriter(w)
	switch format {
	case FormatYOLO:
		err = writeYOLO(zw, result, onDisk)
	case FormatCOCO:
		err = writeCOCO(zw, result, onDisk)
	}
	if err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// WriteFile writes the archive to path, removing it again on failure.
func WriteFile(result *results.SegmentationResult, frameDir string, format Format, dest string) error {
	f, err := os.Create(dest)
	if err != nil {
		return errors.Wrap(err, "creating archive")
	}
	if err := Write(result, frameDir, format, f); err != nil {
		f.Close()
		os.Remove(dest)
		return err
	}
	return f.Close()
}

// Classes returns the sorted class names of a result.
func Classes(result *results.SegmentationResult) []string {
	names := make([]string, 0, len(result.Stats.ObjectsPerClass))
	for name := range result.Stats.ObjectsPerClass {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func copyFrame(zw *zip.Writer, name string, src util.FrameFile) error {
	data, err := src.ReadData()
	if err != nil {
		return errors.Wrapf(err, "reading %s", src.Path)
	}
	dst, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = dst.Write(data)
	return err
}

type yoloData struct {
	Names []string `yaml:"names"`
	NC    int      `yaml:"nc"`
	Train string   `yaml:"train"`
	Val   string   `yaml:"val"`
}

func writeYOLO(zw *zip.Writer, result *results.SegmentationResult, onDisk map[int]util.FrameFile) error {
	classes := Classes(result)
	ids := make(map[string]int, len(classes))
	for i, name := range classes {
		ids[name] = i
	}

	data, err := yaml.Marshal(yoloData{Names: classes, NC: len(classes), Train: "images", Val: "images"})
	if err != nil {
		return errors.Wrap(err, "encoding data.yaml")
	}
	f, err := zw.Create("data.yaml")
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		return err
	}

	width := float64(result.VideoMetadata.Width)
	height := float64(result.VideoMetadata.Height)
	for _, frame := range result.Frames {
		src, ok := onDisk[frame.FrameIndex]
		if !ok {
			continue
		}
		base := strings.TrimSuffix(util.FrameFileName(frame.FrameIndex), util.FrameExt)
		if err := copyFrame(zw, path.Join("images", base+util.FrameExt), src); err != nil {
			return err
		}

		var labels strings.Builder
		for _, obj := range frame.Objects {
			id, ok := ids[obj.ClassName]
			if !ok {
				continue
			}
			b := obj.BBox
			bw, bh := b[2]-b[0], b[3]-b[1]
			fmt.Fprintf(&labels, "%d %.6f %.6f %.6f %.6f\n", id,
				(b[0]+bw/2)/width, (b[1]+bh/2)/height, bw/width, bh/height)
		}
		lf, err := zw.Create(path.Join("labels", base+".txt"))
		if err != nil {
			return err
		}
		if _, err := io.WriteString(lf, labels.String()); err != nil {
			return err
		}
	}
	return nil
}

type cocoInfo struct {
	Description string `json:"description"`
	Version     string `json:"version"`
}

type cocoImage struct {
	ID       int    `json:"id"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	FileName string `json:"file_name"`
}

type cocoAnnotation struct {
	ID         int        `json:"id"`
	ImageID    int        `json:"image_id"`
	CategoryID int        `json:"category_id"`
	BBox       [4]float64 `json:"bbox"`
	Area       float64    `json:"area"`
	IsCrowd    int        `json:"iscrowd"`
}

type cocoCategory struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	Supercategory string `json:"supercategory"`
}

type cocoDataset struct {
	Info        cocoInfo         `json:"info"`
	Licenses    []any            `json:"licenses"`
	Images      []cocoImage      `json:"images"`
	Annotations []cocoAnnotation `json:"annotations"`
	Categories  []cocoCategory   `json:"categories"`
}

func writeCOCO(zw *zip.Writer, result *results.SegmentationResult, onDisk map[int]util.FrameFile) error {
	ds := cocoDataset{
		Info:        cocoInfo{Description: "go-insights exported dataset", Version: "1.0"},
		Licenses:    []any{},
		Images:      []cocoImage{},
		Annotations: []cocoAnnotation{},
		Categories:  []cocoCategory{},
	}
	ids := make(map[string]int)
	for i, name := range Classes(result) {
		ids[name] = i + 1
		ds.Categories = append(ds.Categories, cocoCategory{ID: i + 1, Name: name, Supercategory: "object"})
	}

	nextAnnotation := 1
	for _, frame := range result.Frames {
		src, ok := onDisk[frame.FrameIndex]
		if !ok {
			continue
		}
		name := util.FrameFileName(frame.FrameIndex)
		if err := copyFrame(zw, path.Join("images", name), src); err != nil {
			return err
		}
		imageID := frame.FrameIndex + 1
		ds.Images = append(ds.Images, cocoImage{
			ID:       imageID,
			Width:    result.VideoMetadata.Width,
			Height:   result.VideoMetadata.Height,
			FileName: name,
		})
		for _, obj := range frame.Objects {
			cat, ok := ids[obj.ClassName]
			if !ok {
				continue
			}
			b := obj.BBox
			w, h := b[2]-b[0], b[3]-b[1]
			ds.Annotations = append(ds.Annotations, cocoAnnotation{
				ID:         nextAnnotation,
				ImageID:    imageID,
				CategoryID: cat,
				BBox:       [4]float64{b[0], b[1], w, h},
				Area:       w * h,
			})
			nextAnnotation++
		}
	}

	f, err := zw.Create("annotations.json")
	if err != nil {
		return err
	}
	return errors.Wrap(json.NewEncoder(f).Encode(ds), "encoding annotations.json")
}
