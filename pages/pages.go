// Package pages renders the two generated index pages: a grid of the viewer's
// icons and a list of the bundled examples.
package pages

import (
	"bytes"
	"embed"
	"html/template"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"

	"github.com/pcviewer/viewerkit/internal/fsx"
)

// IndexName is the file written into both the icons and examples directories.
const IndexName = "index.html"

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

var iconPatterns = []string{"*.svg", "*.png", "*.jpg", "*.gif"}

type Icon struct {
	Name string
	Href string
}

type Example struct {
	Title string
	Href  string
	// Thumbnail is empty when the example has no image next to it.
	Thumbnail string
}

// Icons lists the images directly inside dir, sorted by file name.
func Icons(dir string) ([]Icon, error) {
	if err := checkDir(dir); err != nil {
		return nil, err
	}
	var icons []Icon
	for _, p := range iconPatterns {
		matches, err := doublestar.Glob(os.DirFS(dir), p, doublestar.WithFilesOnly())
		if err != nil {
			return nil, errors.Wrapf(err, "error listing icons in %q", dir)
		}
		for _, m := range matches {
			icons = append(icons, Icon{Name: strings.TrimSuffix(m, path.Ext(m)), Href: m})
		}
	}
	sort.Slice(icons, func(i, j int) bool { return icons[i].Href < icons[j].Href })
	return icons, nil
}

// WriteIconsPage renders {root}/{iconsDir}/index.html and returns the number
// of icons on it.
func WriteIconsPage(root, iconsDir string) (int, error) {
	dir := filepath.Join(root, iconsDir)
	icons, err := Icons(dir)
	if err != nil {
		return 0, err
	}
	return len(icons), render(filepath.Join(dir, IndexName), "icons.html", icons)
}

// Examples lists the html pages in dir other than the index. Titles come
// from each page's <title>, falling back to the file name.
func Examples(dir string) ([]Example, error) {
	if err := checkDir(dir); err != nil {
		return nil, err
	}
	matches, err := doublestar.Glob(os.DirFS(dir), "*.html", doublestar.WithFilesOnly())
	if err != nil {
		return nil, errors.Wrapf(err, "error listing examples in %q", dir)
	}
	sort.Strings(matches)

	var examples []Example
	for _, m := range matches {
		if m == IndexName {
			continue
		}
		name := strings.TrimSuffix(m, ".html")
		title, err := pageTitle(filepath.Join(dir, m))
		if err != nil {
			return nil, err
		}
		if title == "" {
			title = name
		}
		ex := Example{Title: title, Href: m}
		for _, ext := range []string{".png", ".jpg"} {
			thumb := path.Join("thumbnails", name+ext)
			if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(thumb))); err == nil {
				ex.Thumbnail = thumb
				break
			}
		}
		examples = append(examples, ex)
	}
	return examples, nil
}

func pageTitle(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", errors.Wrap(err, "error opening example")
	}
	defer f.Close()
	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return "", errors.Wrapf(err, "error parsing %q", p)
	}
	return strings.TrimSpace(doc.Find("title").First().Text()), nil
}

// WriteExamplesPage renders {root}/{examplesDir}/index.html and returns the
// number of examples on it.
func WriteExamplesPage(root, examplesDir string) (int, error) {
	dir := filepath.Join(root, examplesDir)
	examples, err := Examples(dir)
	if err != nil {
		return 0, err
	}
	return len(examples), render(filepath.Join(dir, IndexName), "examples.html", examples)
}

func checkDir(dir string) error {
	fi, err := os.Stat(dir)
	if err != nil {
		return errors.Wrap(err, "error reading page directory")
	}
	if !fi.IsDir() {
		return errors.Errorf("%q is not a directory", dir)
	}
	return nil
}

func render(dst, name string, data interface{}) error {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return errors.Wrapf(err, "error rendering %s", name)
	}
	return fsx.WriteFileAtomic(dst, buf.Bytes(), 0o644)
}
