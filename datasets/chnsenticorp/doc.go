// Package chnsenticorp provides a small built-in Chinese sentiment corpus of
// hotel, book and product reviews labeled 1 (positive) or 0 (negative). It
// lets the training binaries run without any external dataset.
package chnsenticorp
