// Package main classifies the sentiment of texts given as arguments with
// weights written by train_sentiment --save-model.
package main
