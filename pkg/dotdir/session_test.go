package dotdir_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mementolabs/memento/pkg/dotdir"
)

var _ = Describe("session state", func() {
	var tmpDir string
	var m *dotdir.Manager

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "session-test-*")
		Expect(err).NotTo(HaveOccurred())

		tmpDir, err = filepath.EvalSymlinks(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		m = dotdir.NewManager()
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	It("returns nil when no session state exists", func() {
		state, err := m.LoadSessionState(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(state).To(BeNil())
	})

	It("round-trips session state", func() {
		saved := &dotdir.SessionState{UserID: "alice"}
		Expect(m.SaveSession(saved, tmpDir)).To(Succeed())

		loaded, err := m.LoadSessionState(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded).NotTo(BeNil())
		Expect(loaded.UserID).To(Equal("alice"))
	})

	It("rejects saving nil state", func() {
		Expect(m.SaveSession(nil, tmpDir)).NotTo(Succeed())
	})

	It("clears session state", func() {
		Expect(m.SaveSession(&dotdir.SessionState{UserID: "alice"}, tmpDir)).To(Succeed())
		Expect(m.ClearSession(tmpDir)).To(Succeed())

		state, err := m.LoadSessionState(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(state).To(BeNil())
	})

	It("clearing an absent session is a no-op", func() {
		Expect(m.ClearSession(tmpDir)).To(Succeed())
	})
})
