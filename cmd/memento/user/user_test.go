package usercmder_test

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	usercmder "github.com/mementolabs/memento/cmd/memento/user"
	"github.com/mementolabs/memento/pkg/dotdir"
)

func TestUserCmd(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "User Command Suite")
}

var _ = Describe("user command", func() {
	var tmpDir string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "user-cmd-test-*")
		Expect(err).NotTo(HaveOccurred())

		tmpDir, err = filepath.EvalSymlinks(tmpDir)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	execute := func(args ...string) error {
		cmd := usercmder.NewUserCmd()
		cmd.Flags().String("config-dir", tmpDir, "")
		cmd.SetArgs(args)
		cmd.SetOut(GinkgoWriter)
		cmd.SetErr(GinkgoWriter)
		return cmd.Execute()
	}

	It("persists the given user id to the session", func() {
		Expect(execute("alice")).To(Succeed())

		state, err := dotdir.NewManager().LoadSessionState(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(state).NotTo(BeNil())
		Expect(state.UserID).To(Equal("alice"))
	})

	It("shows the namespace without mutating anything", func() {
		Expect(execute()).To(Succeed())

		state, err := dotdir.NewManager().LoadSessionState(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(state).To(BeNil())
	})

	It("clears a saved session", func() {
		Expect(execute("alice")).To(Succeed())
		Expect(execute("--clear")).To(Succeed())

		state, err := dotdir.NewManager().LoadSessionState(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(state).To(BeNil())
	})

	It("rejects combining --clear with a user id", func() {
		Expect(execute("alice", "--clear")).NotTo(Succeed())
	})

	It("rejects more than one user id", func() {
		Expect(execute("alice", "bob")).NotTo(Succeed())
	})
})
