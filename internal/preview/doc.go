// Package preview renders first-page images and counts pages of cached manuals.
//
// Pdftoppm and Pdfinfo shell out to poppler-utils. Rod screenshots the PDF in a
// headless browser and is used when poppler fails on a malformed document.
package preview
