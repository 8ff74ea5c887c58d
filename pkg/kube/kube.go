// Package kube reads and updates the scale subresource of Deployments
// through client-go.
package kube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	autoscalingv1 "k8s.io/api/autoscaling/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
)

var (
	ErrNotFound = errors.New("kube: not found")
	ErrConflict = errors.New("kube: conflict")
)

// Scale is the autoscaling/v1 Scale subresource.
type Scale = autoscalingv1.Scale

// Config points at one cluster. An empty Server means the pod's own
// cluster through the service account. Token wins over TokenFile;
// client-go re-reads TokenFile so rotated projected tokens are picked up.
type Config struct {
	Server    string
	Token     string
	TokenFile string
	CAFile    string
	Insecure  bool
	Timeout   time.Duration
	// WrapTransport decorates the client-go round tripper, e.g. for tracing.
	WrapTransport func(http.RoundTripper) http.RoundTripper
}

// RESTConfig resolves cfg into a client-go configuration.
func (cfg Config) RESTConfig() (*rest.Config, error) {
	var rc *rest.Config
	if server := strings.TrimSpace(cfg.Server); server == "" {
		in, err := rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("kube: in-cluster config: %w", err)
		}
		rc = in
	} else {
		if cfg.Token == "" && cfg.TokenFile == "" {
			return nil, fmt.Errorf("kube: token or token file required")
		}
		rc = &rest.Config{
			Host:            server,
			BearerToken:     cfg.Token,
			BearerTokenFile: cfg.TokenFile,
			TLSClientConfig: rest.TLSClientConfig{CAFile: cfg.CAFile, Insecure: cfg.Insecure},
		}
	}
	rc.Timeout = cfg.Timeout
	if rc.Timeout <= 0 {
		rc.Timeout = 10 * time.Second
	}
	if cfg.WrapTransport != nil {
		rc.WrapTransport = cfg.WrapTransport
	}
	return rc, nil
}

type Client struct {
	clientset kubernetes.Interface
}

func NewClient(cfg Config) (*Client, error) {
	rc, err := cfg.RESTConfig()
	if err != nil {
		return nil, err
	}
	cs, err := kubernetes.NewForConfig(rc)
	if err != nil {
		return nil, fmt.Errorf("kube: clientset: %w", err)
	}
	return NewForClientset(cs), nil
}

// NewForClientset wraps an existing clientset, such as the client-go fake.
func NewForClientset(cs kubernetes.Interface) *Client {
	return &Client{clientset: cs}
}

func (c *Client) GetScale(ctx context.Context, namespace, deployment string) (Scale, error) {
	scale, err := c.clientset.AppsV1().Deployments(namespace).GetScale(ctx, deployment, metav1.GetOptions{})
	if err != nil {
		return Scale{}, fmt.Errorf("get scale %s/%s: %w", namespace, deployment, classify(err))
	}
	return *scale, nil
}

// SetReplicas reads the current scale and writes it back with the desired
// replica count. The read carries the resourceVersion so a concurrent
// writer yields ErrConflict instead of a lost update.
func (c *Client) SetReplicas(ctx context.Context, namespace, deployment string, replicas int32) (Scale, error) {
	scale, err := c.GetScale(ctx, namespace, deployment)
	if err != nil {
		return Scale{}, err
	}
	if scale.Name == "" {
		scale.Name = deployment
	}
	if scale.Namespace == "" {
		scale.Namespace = namespace
	}
	scale.Spec.Replicas = replicas
	updated, err := c.clientset.AppsV1().Deployments(namespace).UpdateScale(ctx, deployment, &scale, metav1.UpdateOptions{})
	if err != nil {
		return Scale{}, fmt.Errorf("update scale %s/%s: %w", namespace, deployment, classify(err))
	}
	return *updated, nil
}

func classify(err error) error {
	switch {
	case apierrors.IsNotFound(err):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case apierrors.IsConflict(err):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	default:
		return err
	}
}
