// Package logx is wknotifier's structured logger: a thin layer over zerolog
// with short caller names, a readable console and an optional JSON file, both
// swappable at runtime through Service.Apply.
package logx
