// Package merger folds freshly built charts into the repository index.
package merger
