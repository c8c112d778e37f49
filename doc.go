// Package gommrm computes statistically valid uncertainty estimates
// for marginal linear models of repeated, correlated measurements.
//
// The fitting itself is an external collaborator's job: an optimizer
// maximizes the restricted likelihood and hands back the coefficient
// and variance-parameter estimates as a model.Fit. This package then
// provides the coefficient-covariance estimators (asymptotic,
// empirical sandwich, leave-one-cluster-out jackknife, Kenward-Roger)
// and the small-sample degrees-of-freedom machinery (Satterthwaite and
// Kenward-Roger) for testing linear contrasts of the fixed effects.
//
// Everything operates on immutable inputs; an Inference value caches
// the expensive per-fit quantities (the coefficient-covariance
// Jacobian and the variance-parameter covariance) so that any number
// of contrasts can be tested against one fit without recomputation.
package gommrm
