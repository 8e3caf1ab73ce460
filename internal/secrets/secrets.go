// Package secrets reads the automation server password from a Kubernetes
// Secret and watches it for rotation.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/client-go/informers"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/cache"
	"k8s.io/client-go/tools/clientcmd"
)

// DefaultKey is the data key read when a reference names no key
const DefaultKey = "password"

var ErrInvalidRef = errors.New("invalid secret reference")

// Ref points at one key of one Secret
type Ref struct {
	Namespace string
	Name      string
	Key       string
}

// ParseRef parses "namespace/name" or "namespace/name/key"
func ParseRef(s string) (Ref, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) < 2 || len(parts) > 3 {
		return Ref{}, fmt.Errorf("%w: %q, want namespace/name[/key]", ErrInvalidRef, s)
	}
	for _, p := range parts {
		if p == "" {
			return Ref{}, fmt.Errorf("%w: %q has an empty segment", ErrInvalidRef, s)
		}
	}

	ref := Ref{Namespace: parts[0], Name: parts[1], Key: DefaultKey}
	if len(parts) == 3 {
		ref.Key = parts[2]
	}
	return ref, nil
}

func (r Ref) String() string {
	return r.Namespace + "/" + r.Name + "/" + r.Key
}

// NewClientset builds a Kubernetes client from the in-cluster service
// account or from a kubeconfig file.
func NewClientset(kubeconfig string, inCluster bool) (kubernetes.Interface, error) {
	var restConfig *rest.Config
	var err error

	if inCluster {
		restConfig, err = rest.InClusterConfig()
	} else {
		restConfig, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build kubernetes config: %w", err)
	}

	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	return client, nil
}

// Password reads the referenced key once
func Password(ctx context.Context, client kubernetes.Interface, ref Ref) (string, error) {
	secret, err := client.CoreV1().Secrets(ref.Namespace).Get(ctx, ref.Name, metav1.GetOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s/%s: %w", ref.Namespace, ref.Name, err)
	}
	return valueOf(secret, ref)
}

func valueOf(secret *corev1.Secret, ref Ref) (string, error) {
	if v, ok := secret.Data[ref.Key]; ok {
		return string(v), nil
	}
	if v, ok := secret.StringData[ref.Key]; ok {
		return v, nil
	}
	return "", fmt.Errorf("secret %s/%s has no key %q", ref.Namespace, ref.Name, ref.Key)
}

// Watcher follows one Secret with an informer and reports value changes
type Watcher struct {
	client kubernetes.Interface
	ref    Ref
	resync time.Duration
	logger zerolog.Logger

	mu      sync.Mutex
	current string
}

// NewWatcher creates a watcher. current is the value already in use, so the
// initial list does not count as a change.
func NewWatcher(client kubernetes.Interface, ref Ref, current string, resync time.Duration, logger zerolog.Logger) *Watcher {
	return &Watcher{
		client:  client,
		ref:     ref,
		resync:  resync,
		current: current,
		logger:  logger.With().Str("component", "secret-watcher").Str("secret", ref.String()).Logger(),
	}
}

// Run watches until ctx is done, calling onChange with every new value
func (w *Watcher) Run(ctx context.Context, onChange func(string)) error {
	factory := informers.NewSharedInformerFactoryWithOptions(w.client, w.resync,
		informers.WithNamespace(w.ref.Namespace),
		informers.WithTweakListOptions(func(o *metav1.ListOptions) {
			o.FieldSelector = fields.OneTermEqualSelector("metadata.name", w.ref.Name).String()
		}),
	)

	informer := factory.Core().V1().Secrets().Informer()
	handle := func(obj interface{}) {
		secret, ok := obj.(*corev1.Secret)
		if !ok || secret.Name != w.ref.Name {
			return
		}
		w.observe(secret, onChange)
	}
	informer.AddEventHandler(cache.ResourceEventHandlerFuncs{
		AddFunc:    handle,
		UpdateFunc: func(oldObj, newObj interface{}) { handle(newObj) },
		DeleteFunc: func(obj interface{}) {
			w.logger.Warn().Msg("Secret deleted, keeping current password")
		},
	})

	factory.Start(ctx.Done())

	w.logger.Info().Msg("Waiting for secret informer cache to sync")
	if !cache.WaitForCacheSync(ctx.Done(), informer.HasSynced) {
		return ctx.Err()
	}
	w.logger.Info().Msg("Watching secret for rotation")

	<-ctx.Done()
	factory.Shutdown()
	return ctx.Err()
}

func (w *Watcher) observe(secret *corev1.Secret, onChange func(string)) {
	value, err := valueOf(secret, w.ref)
	if err != nil {
		w.logger.Warn().Err(err).Msg("Ignoring secret update")
		return
	}

	w.mu.Lock()
	changed := value != w.current
	w.current = value
	w.mu.Unlock()

	if changed {
		w.logger.Info().Msg("Secret value changed")
		onChange(value)
	}
}
